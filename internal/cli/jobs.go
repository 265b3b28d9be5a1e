package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ChuLiYu/faleiro/internal/transport"
	"github.com/ChuLiYu/faleiro/pkg/types"
)

const rpcTimeout = 10 * time.Second

// clientFlags 連線到 scheduler 的命令共用
type clientFlags struct {
	addr string
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.addr, "addr", "", "scheduler address (default executor.scheduler)")
}

func (f *clientFlags) connect(opts *rootOptions) (*transport.Client, error) {
	addr := f.addr
	if addr == "" {
		cfg, err := opts.load()
		if err != nil {
			return nil, err
		}
		addr = cfg.Executor.Scheduler
	}
	return dial(addr)
}

func dial(addr string) (*transport.Client, error) {
	return transport.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

// ============================================================================
// submit
// ============================================================================

func buildSubmitCommand(opts *rootOptions) *cobra.Command {
	var jobFile string
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit jobs from a JSON file",
		Long: `Read one job spec or a list of job specs from a JSON file and submit them.

  {
    "job_name": "tsp-100",
    "job_time": 60,
    "module_url": "anneal",
    "module_data": {"cities": 100},
    "divisions": 8
  }`,
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := readSpecs(jobFile)
			if err != nil {
				return err
			}
			client, err := flags.connect(opts)
			if err != nil {
				return err
			}
			defer client.Close()

			out := cmd.OutOrStdout()
			submitted := 0
			for _, spec := range specs {
				ctx, cancel := context.WithTimeout(cmd.Context(), rpcTimeout)
				id, err := client.SubmitJob(ctx, spec)
				cancel()
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "Failed to submit job %q: %v\n", spec.Name, err)
					continue
				}
				submitted++
				fmt.Fprintf(out, "Submitted job %d (%s)\n", id, spec.Name)
			}
			if submitted < len(specs) {
				return fmt.Errorf("submitted %d/%d jobs", submitted, len(specs))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&jobFile, "file", "f", "", "JSON file containing job specs (- for stdin)")
	cmd.MarkFlagRequired("file")
	flags.register(cmd)

	return cmd
}

// readSpecs 讀取單一 spec 或 spec 陣列
func readSpecs(path string) ([]types.JobSpec, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("job file %s is empty", path)
	}

	var specs []types.JobSpec
	if data[0] == '[' {
		err = json.Unmarshal(data, &specs)
	} else {
		var spec types.JobSpec
		err = json.Unmarshal(data, &spec)
		specs = append(specs, spec)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse job file: %w", err)
	}

	for i, s := range specs {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("job %d: %w", i, err)
		}
	}
	return specs, nil
}

// ============================================================================
// status
// ============================================================================

func buildStatusCommand(opts *rootOptions) *cobra.Command {
	var flags clientFlags
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show job status",
		Long:  "Show the status of one job, or of every job when no id is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.connect(opts)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), rpcTimeout)
			defer cancel()

			var jobs []types.Status
			if len(args) == 1 {
				id, err := parseJobID(args[0])
				if err != nil {
					return err
				}
				st, err := client.JobStatus(ctx, id)
				if err != nil {
					return err
				}
				jobs = append(jobs, st)
			} else {
				if jobs, err = client.ListJobs(ctx); err != nil {
					return err
				}
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(jobs)
			}
			return printStatus(cmd.OutOrStdout(), jobs)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full status documents as JSON")
	flags.register(cmd)

	return cmd
}

func printStatus(w io.Writer, jobs []types.Status) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATE\tPROGRESS\tBEST ENERGY\tBEST LOCATION")
	for _, s := range jobs {
		progress := "splitting"
		if s.NumTotalTasks >= 0 {
			progress = fmt.Sprintf("%d/%d", s.NumFinishedTasks, s.NumTotalTasks)
		}
		energy := "-"
		if s.NumFinishedTasks > 0 {
			energy = strconv.FormatFloat(s.BestEnergy, 'g', 6, 64)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			s.JobID, s.JobName, s.CurrentState, progress, energy, s.BestLocation)
	}
	return tw.Flush()
}

// ============================================================================
// pause / resume / stop
// ============================================================================

func buildControlCommand(opts *rootOptions, action transport.Action, short string) *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   string(action) + " <job-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			client, err := flags.connect(opts)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), rpcTimeout)
			defer cancel()

			st, err := client.Control(ctx, id, action)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %d is %s\n", st.JobID, st.CurrentState)
			return nil
		},
	}
	flags.register(cmd)

	return cmd
}

func parseJobID(s string) (types.JobID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid job id %q", s)
	}
	return types.JobID(n), nil
}
