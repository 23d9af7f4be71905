package main

import (
	"context"
	"fmt"

	"github.com/cheggaaa/pb/v3"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/asascience/matos/internal/apperror"
	"github.com/asascience/matos/internal/blobstore"
	"github.com/asascience/matos/internal/ingest"
	"github.com/asascience/matos/internal/plugins/submissions"
	"github.com/asascience/matos/internal/plugins/tags"
)

func getProcessCmd() *cobra.Command {
	var studyID string
	cmd := &cobra.Command{
		Use:   "process [submission-id...]",
		Short: "Processes uploaded submissions",
		Long: `Runs the ingest parser for each named submission. With --study, every
submission of that study that is not yet processed is picked up.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && studyID == "" {
				return fmt.Errorf("name at least one submission or pass --study")
			}
			return runProcess(cmd, studyID, args)
		},
	}
	cmd.Flags().StringVar(&studyID, "study", "", "process pending submissions of this study")
	return cmd
}

func runProcess(cmd *cobra.Command, studyID string, ids []string) error {
	ctx := context.Background()
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	blobs, err := blobstore.Open(ctx, cfg.Blob)
	if err != nil {
		return fmt.Errorf("failed to open blob store: %w", err)
	}

	tagSvc := tags.NewTagService(tags.NewTagRepository(db))
	parser := ingest.NewCSVParser(ingest.NewStore(db), tagSvc)
	svc := submissions.NewSubmissionService(submissions.NewSubmissionRepository(db), blobs, parser, nil,
		submissions.Options{MaxSize: cfg.Upload.MaxSize, Timeout: cfg.Ingest.Timeout})

	if studyID != "" {
		list, err := svc.List(ctx, studyID)
		if err != nil {
			return err
		}
		for _, s := range list {
			if s.Status == submissions.StatusUploaded || s.Status == submissions.StatusFailed {
				ids = append(ids, s.ID)
			}
		}
	}
	if len(ids) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing to process")
		return nil
	}

	bar := pb.Full.Start(len(ids))
	bar.Set("prefix", "processing ")
	bar.Set(pb.CleanOnFinish, true)

	var rows, failed int
	var failures []string
	for _, id := range ids {
		sub, err := svc.Process(ctx, id)
		bar.Increment()
		if err != nil {
			failed++
			failures = append(failures, fmt.Sprintf("%s: %s", id, apperror.SafeMessage(err)))
			continue
		}
		rows += sub.RowCount
	}
	bar.Finish()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Processed %d of %d submission(s), %s rows\n",
		len(ids)-failed, len(ids), humanize.Comma(int64(rows)))
	for _, f := range failures {
		fmt.Fprintln(out, "  failed", f)
	}
	if failed > 0 {
		return fmt.Errorf("%d submission(s) failed", failed)
	}
	return nil
}
