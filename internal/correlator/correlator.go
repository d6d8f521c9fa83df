package correlator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/models"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/plugins"
	"github.com/Project-MONAI/monai-deploy-informatics-gateway-sub000/internal/repository"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// ErrCorrelationMiss is returned when returned data carries a proxy
// identifier the gateway has no record of. The artifact cannot be attributed
// and must be reported, never silently dropped.
var ErrCorrelationMiss = errors.New("no remote execution record for proxy identifier")

// defaultProxyTags are the identifying attributes replaced before data is
// sent to an external application
var defaultProxyTags = []tag.Tag{
	tag.StudyInstanceUID,
	tag.SeriesInstanceUID,
	tag.SOPInstanceUID,
	tag.PatientID,
	tag.AccessionNumber,
}

// RestoredContext carries the workflow identifiers re-attached to a
// round-tripped artifact
type RestoredContext struct {
	CorrelationID      string
	WorkflowInstanceID string
	ExportTaskID       string
}

// Correlator tracks the mapping between proxy identifiers handed to external
// applications and the original identifiers, so returned data re-enters the
// gateway indistinguishable from data that never left.
type Correlator struct {
	repo   repository.RemoteAppExecutionRepository
	tags   []tag.Tag
	newUID func() string
}

// Option configures a Correlator
type Option func(*Correlator)

// WithProxyTags overrides the set of tags substituted on egress
func WithProxyTags(tags []tag.Tag) Option {
	return func(c *Correlator) { c.tags = tags }
}

// WithUIDGenerator overrides proxy identifier generation; used by tests
func WithUIDGenerator(fn func() string) Option {
	return func(c *Correlator) { c.newUID = fn }
}

// New creates a correlator persisting records through repo
func New(repo repository.RemoteAppExecutionRepository, opts ...Option) *Correlator {
	c := &Correlator{
		repo:   repo,
		tags:   defaultProxyTags,
		newUID: NewProxyUID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewProxyUID derives a DICOM UID under the UUID root from a fresh UUID
func NewProxyUID() string {
	id := uuid.New()
	return "2.25." + new(big.Int).SetBytes(id[:]).String()
}

// Substitute replaces identifying tags with generated proxy values and
// persists the mapping keyed by the proxy study UID. Running again on an
// already-substituted dataset is a no-op, so delivery retries do not stack
// substitutions.
func (c *Correlator) Substitute(ctx context.Context, ds *dicom.Dataset, task *plugins.ExportTaskContext) ([]plugins.Substitution, error) {
	studyUID, ok := plugins.TagValue(ds, tag.StudyInstanceUID)
	if !ok {
		return nil, fmt.Errorf("dataset has no study instance UID")
	}

	// Already substituted on a prior attempt.
	if existing, err := c.repo.GetByOutgoingUID(ctx, studyUID); err == nil {
		return recordedSubstitutions(existing), nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	execution := &models.RemoteAppExecution{
		CorrelationID:      task.CorrelationID,
		WorkflowInstanceID: task.WorkflowInstanceID,
		ExportTaskID:       task.ExportTaskID,
		StudyUID:           studyUID,
		RequestTime:        time.Now().UTC(),
		OriginalValues:     models.StringMap{},
		ProxyValues:        models.StringMap{},
	}

	var substitutions []plugins.Substitution
	for _, t := range c.tags {
		original, ok := plugins.TagValue(ds, t)
		if !ok {
			continue
		}
		proxy := c.newUID()
		if err := plugins.SetTagValue(ds, t, proxy); err != nil {
			return nil, err
		}
		name := plugins.TagName(t)
		execution.OriginalValues[name] = original
		execution.ProxyValues[name] = proxy
		substitutions = append(substitutions, plugins.Substitution{Tag: name, Original: original, Proxy: proxy})
		if t == tag.StudyInstanceUID {
			execution.OutgoingUID = proxy
		}
	}

	if execution.OutgoingUID == "" {
		return nil, fmt.Errorf("study instance UID was not substituted")
	}
	if err := c.repo.Add(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to persist remote execution record: %w", err)
	}

	log.Info().
		Str("outgoing_uid", execution.OutgoingUID).
		Str("correlation_id", task.CorrelationID).
		Str("destination", task.Destination).
		Msg("Remote execution recorded")
	return substitutions, nil
}

// Restore reverses the substitution on a returned artifact and re-attaches
// the original workflow identifiers. The record is consumed on success.
func (c *Correlator) Restore(ctx context.Context, ds *dicom.Dataset, item *models.FileStorageItem) (*RestoredContext, error) {
	proxyStudyUID, ok := plugins.TagValue(ds, tag.StudyInstanceUID)
	if !ok {
		return nil, fmt.Errorf("returned dataset has no study instance UID")
	}

	execution, err := c.repo.GetByOutgoingUID(ctx, proxyStudyUID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCorrelationMiss, proxyStudyUID)
		}
		return nil, err
	}

	for name, original := range execution.OriginalValues {
		info, err := tag.FindByName(name)
		if err != nil {
			return nil, fmt.Errorf("unknown tag %q in remote execution record: %w", name, err)
		}
		if err := plugins.SetTagValue(ds, info.Tag, original); err != nil {
			return nil, err
		}
	}

	if item != nil {
		item.CorrelationID = execution.CorrelationID
		if item.Dicom != nil {
			item.Dicom.StudyInstanceUID = execution.OriginalValues[plugins.TagName(tag.StudyInstanceUID)]
		}
	}

	if err := c.repo.Remove(ctx, execution.OutgoingUID); err != nil {
		return nil, fmt.Errorf("failed to consume remote execution record: %w", err)
	}

	log.Info().
		Str("outgoing_uid", execution.OutgoingUID).
		Str("correlation_id", execution.CorrelationID).
		Msg("Remote execution restored")
	return &RestoredContext{
		CorrelationID:      execution.CorrelationID,
		WorkflowInstanceID: execution.WorkflowInstanceID,
		ExportTaskID:       execution.ExportTaskID,
	}, nil
}

func recordedSubstitutions(execution *models.RemoteAppExecution) []plugins.Substitution {
	substitutions := make([]plugins.Substitution, 0, len(execution.OriginalValues))
	for name, original := range execution.OriginalValues {
		substitutions = append(substitutions, plugins.Substitution{
			Tag:      name,
			Original: original,
			Proxy:    execution.ProxyValues[name],
		})
	}
	return substitutions
}
