package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/tendant/simple-blob/pkg/simpleblob"
	"github.com/tendant/simple-blob/pkg/simpleblob/config"
)

type AppConfig struct {
	Environment string `env:"SB_ENVIRONMENT" env-default:"development"`
}

func main() {
	var appConfig AppConfig
	if err := cleanenv.ReadEnv(&appConfig); err != nil {
		slog.Error("Failed to read environment", "err", err)
		os.Exit(1)
	}

	cfg, err := config.Load(
		config.WithEnvironment(appConfig.Environment),
		config.WithEnv("SB_"),
	)
	if err != nil {
		slog.Error("Failed to load configuration", "err", err)
		os.Exit(1)
	}

	svc, err := cfg.BuildService()
	if err != nil {
		slog.Error("Failed to build service", "err", err)
		os.Exit(1)
	}

	if err := runBlobFlow(context.Background(), svc); err != nil {
		slog.Error("Blob flow failed", "err", err)
		os.Exit(1)
	}

	slog.Info("Blob flow completed successfully")
}

func runBlobFlow(ctx context.Context, svc simpleblob.Service) error {
	documentID := uuid.New()
	slog.Info("Using document", "document_id", documentID)

	// 1. Link markdown content to the document.
	ref, err := svc.LinkContent(ctx, simpleblob.LinkContentRequest{
		DocumentID: documentID,
		Data:       []byte("# Release Notes\n\nInitial draft.\n"),
		FileName:   "notes.md",
		RefType:    simpleblob.RefTypeContent,
	})
	if err != nil {
		return fmt.Errorf("failed to link content: %w", err)
	}
	blob, err := svc.GetBlob(ctx, ref.BlobID)
	if err != nil {
		return fmt.Errorf("failed to fetch blob: %w", err)
	}
	slog.Info("Linked content",
		"reference_id", ref.ID,
		"blob_id", blob.ID,
		"hash", blob.Hash,
		"content_type", blob.ContentType)

	// 2. Linking the same bytes elsewhere dedups to the same blob.
	otherDoc := uuid.New()
	dupRef, err := svc.LinkContent(ctx, simpleblob.LinkContentRequest{
		DocumentID: otherDoc,
		Data:       []byte("# Release Notes\n\nInitial draft.\n"),
		FileName:   "notes.md",
		RefType:    simpleblob.RefTypeContent,
	})
	if err != nil {
		return fmt.Errorf("failed to link duplicate content: %w", err)
	}
	slog.Info("Deduplicated", "same_blob", dupRef.BlobID == blob.ID)

	// 3. Update the document's content. The old blob stays intact.
	updatedRef, err := svc.UpdateContent(ctx, simpleblob.UpdateContentRequest{
		DocumentID: documentID,
		Data:       []byte("# Release Notes\n\nFinal revision.\n"),
		FileName:   "notes.md",
		RefType:    simpleblob.RefTypeContent,
	})
	if err != nil {
		return fmt.Errorf("failed to update content: %w", err)
	}
	slog.Info("Updated content",
		"reference_id", updatedRef.ID,
		"old_blob", blob.ID,
		"new_blob", updatedRef.BlobID)

	// 4. Read the document's current content back.
	data, err := svc.GetDocumentContent(ctx, documentID, simpleblob.RefTypeContent)
	if err != nil {
		return fmt.Errorf("failed to get document content: %w", err)
	}
	slog.Info("Fetched document content", "bytes", len(data))
	fmt.Println(string(data))

	// 5. Inspect references and counts.
	refs, err := svc.ListReferences(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to list references: %w", err)
	}
	slog.Info("Document references", "count", len(refs))

	count, err := svc.ReferenceCount(ctx, updatedRef.BlobID)
	if err != nil {
		return fmt.Errorf("failed to count references: %w", err)
	}
	slog.Info("New blob reference count", "count", count)

	// 6. The superseded blob is unreferenced once the duplicate link goes away.
	if err := svc.DeleteReference(ctx, dupRef.ID); err != nil {
		return fmt.Errorf("failed to delete reference: %w", err)
	}
	if err := svc.DestroyBlob(ctx, blob.ID); err != nil {
		return fmt.Errorf("failed to destroy blob: %w", err)
	}
	slog.Info("Destroyed superseded blob", "blob_id", blob.ID)

	return nil
}
