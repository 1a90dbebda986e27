package main

import (
	"fmt"
	"io"
	"os"

	"github.com/Abraxas-365/repohub/pkg/datarepo"
	"github.com/Abraxas-365/repohub/pkg/jobx/jobxclient"
	"github.com/Abraxas-365/repohub/pkg/wirex"
	"github.com/spf13/cobra"
)

var (
	submitURL   string
	submitToken string
	submitFile  string
	submitWait  bool
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a job to a running server",
	Long: `Submit a job read from a JSON file (or stdin with --file -). The file
holds the request with its "concreteType" discriminator, for example:

  {"concreteType": "UploadJob", "file": "people.csv", "table": "people"}

With --wait the command polls until the job ends and prints its response.`,
	RunE: runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().StringVar(&submitURL, "url", "http://localhost:8080", "server base URL")
	submitCmd.Flags().StringVar(&submitToken, "token", os.Getenv("REPOHUB_TOKEN"), "access token (default $REPOHUB_TOKEN)")
	submitCmd.Flags().StringVarP(&submitFile, "file", "f", "-", "request JSON file, - for stdin")
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "wait for the job and print its response")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	raw, err := readRequest(cmd, submitFile)
	if err != nil {
		return err
	}

	reg := wirex.NewRegistry()
	if err := datarepo.Register(reg); err != nil {
		return err
	}
	codec := wirex.NewCodec(reg)

	req, err := codec.Decode(raw)
	if err != nil {
		return err
	}

	client := jobxclient.New(submitURL, codec, jobxclient.WithToken(submitToken))
	ctx := cmd.Context()

	jobID, err := client.Start(ctx, req)
	if err != nil {
		return err
	}
	if !submitWait {
		fmt.Fprintln(cmd.OutOrStdout(), jobID)
		return nil
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "job %s submitted, waiting...\n", jobID)
	resp, err := client.Await(ctx, jobID)
	if err != nil {
		return err
	}
	out, err := codec.Encode(resp)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func readRequest(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}
