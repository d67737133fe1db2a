package identity

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/helanludovic-commits/middleware-journea/internal/retryqueue"
	"github.com/helanludovic-commits/middleware-journea/internal/store"
)

type ContactFieldWriter interface {
	UpdateContactField(ctx context.Context, contactID, key, value string) error
}

type RetryEnqueuer interface {
	Enqueue(ctx context.Context, job retryqueue.Job) error
}

// BackSyncResult is reported to metrics as a label value.
type BackSyncResult string

const (
	BackSyncSkipped BackSyncResult = "skipped"
	BackSyncWritten BackSyncResult = "written"
	BackSyncFailed  BackSyncResult = "failed"
	BackSyncQueued  BackSyncResult = "queued"
)

// BackSyncWriter stores the internal person id on the CRM contact so both
// systems can cross-reference it. It makes a single attempt; failures go to
// the retry queue when one is configured.
type BackSyncWriter struct {
	crm      ContactFieldWriter
	fieldKey string
	queue    RetryEnqueuer
	logger   *zap.Logger
}

func NewBackSyncWriter(crm ContactFieldWriter, fieldKey string, queue RetryEnqueuer, logger *zap.Logger) *BackSyncWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BackSyncWriter{crm: crm, fieldKey: fieldKey, queue: queue, logger: logger}
}

func (w *BackSyncWriter) WriteBack(ctx context.Context, person store.Person) (BackSyncResult, error) {
	if person.ExternalContactID == "" || w.crm == nil {
		return BackSyncSkipped, nil
	}
	err := w.crm.UpdateContactField(ctx, person.ExternalContactID, w.fieldKey, person.ID)
	if err == nil {
		w.logger.Debug("back-sync written",
			zap.String("person_id", person.ID),
			zap.String("external_contact_id", person.ExternalContactID),
		)
		return BackSyncWritten, nil
	}

	err = fmt.Errorf("%w: contact %s: %w", ErrExternalAPI, person.ExternalContactID, err)
	w.logger.Warn("back-sync failed",
		zap.String("person_id", person.ID),
		zap.String("external_contact_id", person.ExternalContactID),
		zap.Error(err),
	)
	if w.queue == nil {
		return BackSyncFailed, err
	}
	job := retryqueue.Job{ContactID: person.ExternalContactID, FieldKey: w.fieldKey, Value: person.ID, Attempts: 1}
	if qerr := w.queue.Enqueue(ctx, job); qerr != nil {
		w.logger.Warn("back-sync enqueue failed", zap.String("person_id", person.ID), zap.Error(qerr))
		return BackSyncFailed, err
	}
	return BackSyncQueued, err
}

// Retry is a retryqueue.Handler replaying a queued write.
func (w *BackSyncWriter) Retry(ctx context.Context, job retryqueue.Job) error {
	if err := w.crm.UpdateContactField(ctx, job.ContactID, job.FieldKey, job.Value); err != nil {
		return fmt.Errorf("%w: contact %s: %w", ErrExternalAPI, job.ContactID, err)
	}
	return nil
}
