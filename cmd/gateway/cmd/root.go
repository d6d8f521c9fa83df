package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewRoot builds the gateway command tree
func NewRoot(ctx context.Context, gitsha string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "clinical imaging gateway: ingests DICOM/HL7 artifacts, groups them into payloads and delivers them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(cmd.Context())
		},
	}
	cmd.AddCommand(
		newVersionCmd(gitsha),
	)
	cmd.SetContext(ctx)
	return cmd
}

func newVersionCmd(gitsha string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(gitsha)
		},
	}
}
