package catalog

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"dvetransfer/internal/logging"
	"dvetransfer/internal/metadata"
	"dvetransfer/internal/services"
)

const stageName = "catalog"

// Reconciler assigns object version numbers.
type Reconciler struct {
	service Service
	logger  *slog.Logger
	locks   keyedMutex
}

// NewReconciler wraps service.
func NewReconciler(service Service, logger *slog.Logger) *Reconciler {
	return &Reconciler{service: service, logger: logging.NewComponentLogger(logger, stageName)}
}

// RegisterVersion records rec in the catalog and returns its object version.
// It is safe to call again for a DVE that was already registered.
func (r *Reconciler) RegisterVersion(ctx context.Context, datastation string, rec *metadata.Record) (int, error) {
	if rec.ObjectVersion > 0 {
		return rec.ObjectVersion, nil
	}

	unlock := r.locks.lock(rec.NBN)
	defer unlock()

	logger := logging.WithContext(ctx, r.logger).With(
		logging.String(logging.FieldNbn, rec.NBN),
		logging.String("bag_id", rec.BagID),
	)

	dataset, err := r.service.GetDataset(ctx, rec.NBN)
	if errors.Is(err, ErrNotFound) {
		return r.create(ctx, logger, datastation, rec)
	}
	if err != nil {
		return 0, transient("get dataset", err)
	}

	if dataset.DatasetPID != rec.DatasetPID {
		return 0, &ConsistencyError{
			NBN:    rec.NBN,
			BagID:  rec.BagID,
			Reason: "dataset pid " + rec.DatasetPID + " does not match catalog pid " + dataset.DatasetPID,
		}
	}

	if existing := dataset.ByBagID(rec.BagID); existing != nil && !existing.Skeleton {
		logger.Info("bag already registered; reusing version",
			logging.String(logging.FieldEventType, "catalog_version_replayed"),
			logging.Int("object_version", existing.ObjectVersion),
		)
		return existing.ObjectVersion, nil
	}

	skeletons := dataset.Skeletons()
	if len(skeletons) > 0 {
		return r.completeSkeleton(ctx, logger, dataset, skeletons, rec)
	}

	next := len(dataset.Versions) + 1
	if latest := dataset.Latest(); latest != nil && latest.ObjectVersion != len(dataset.Versions) {
		return 0, &ConsistencyError{
			NBN:     rec.NBN,
			Version: latest.ObjectVersion,
			BagID:   rec.BagID,
			Reason:  "stored version numbers are not contiguous",
		}
	}
	export := exportFromRecord(rec, next)
	if err := r.service.SetVersionExport(ctx, rec.NBN, export); err != nil {
		return 0, r.storeError("append version", rec, next, err)
	}
	logger.Info("version appended",
		logging.String(logging.FieldEventType, "catalog_version_appended"),
		logging.Int("object_version", next),
	)
	return next, nil
}

func (r *Reconciler) create(ctx context.Context, logger *slog.Logger, datastation string, rec *metadata.Record) (int, error) {
	dataset := Dataset{
		NBN:          rec.NBN,
		Datastation:  datastation,
		DatasetPID:   rec.DatasetPID,
		SwordToken:   rec.SwordToken,
		DataSupplier: rec.DataSupplier,
		Versions:     []VersionExport{exportFromRecord(rec, 1)},
	}
	if err := r.service.CreateDataset(ctx, dataset); err != nil {
		return 0, r.storeError("create dataset", rec, 1, err)
	}
	logger.Info("dataset created",
		logging.String(logging.FieldEventType, "catalog_dataset_created"),
		logging.String("datastation", datastation),
		logging.String("dataset_pid", rec.DatasetPID),
	)
	return 1, nil
}

func (r *Reconciler) completeSkeleton(ctx context.Context, logger *slog.Logger, dataset *Dataset, skeletons []*VersionExport, rec *metadata.Record) (int, error) {
	latest := dataset.Latest()
	skeleton := skeletons[0]
	if len(skeletons) > 1 || skeleton.ObjectVersion != latest.ObjectVersion {
		return 0, &ConsistencyError{
			NBN:     rec.NBN,
			Version: skeleton.ObjectVersion,
			BagID:   rec.BagID,
			Reason:  "skeleton version export is not the latest version",
		}
	}
	export := exportFromRecord(rec, skeleton.ObjectVersion)
	if err := r.service.SetVersionExport(ctx, rec.NBN, export); err != nil {
		return 0, r.storeError("complete skeleton", rec, skeleton.ObjectVersion, err)
	}
	logger.Info("skeleton version completed",
		logging.String(logging.FieldEventType, "catalog_skeleton_completed"),
		logging.Int("object_version", skeleton.ObjectVersion),
	)
	return skeleton.ObjectVersion, nil
}

func (r *Reconciler) storeError(operation string, rec *metadata.Record, version int, err error) error {
	switch {
	case errors.Is(err, ErrNotSkeleton):
		return &ConsistencyError{NBN: rec.NBN, Version: version, BagID: rec.BagID, Reason: "stored version export is no longer a skeleton", Err: err}
	case errors.Is(err, ErrDatasetExists), errors.Is(err, ErrVersionGap), errors.Is(err, services.ErrConsistency):
		return &ConsistencyError{NBN: rec.NBN, Version: version, BagID: rec.BagID, Reason: operation + " rejected by catalog", Err: err}
	default:
		return transient(operation, err)
	}
}

func transient(operation string, err error) error {
	return services.WithHint(
		services.Wrap(services.ErrTransient, stageName, operation, "catalog request failed", err),
		"check catalog availability and replay the failed outbox",
	)
}

func exportFromRecord(rec *metadata.Record, version int) VersionExport {
	files := make([]FileMeta, 0, len(rec.Files))
	for _, f := range rec.Files {
		files = append(files, FileMeta{
			Path: stripBase(rec.BagBase, f.Path),
			URI:  f.URI,
			Size: f.Size,
			SHA1: f.SHA1,
		})
	}
	return VersionExport{
		DatasetNBN:      rec.NBN,
		ObjectVersion:   version,
		Created:         rec.Created.UTC(),
		BagID:           rec.BagID,
		DatasetVersion:  rec.DatasetVersion,
		Title:           rec.Title,
		Exporter:        rec.Exporter,
		ExporterVersion: rec.ExporterVersion,
		OtherID:         rec.OtherID,
		OtherIDVersion:  rec.OtherIDVersion,
		Metadata:        rec.Provenance,
		Files:           files,
	}
}

func stripBase(base, p string) string {
	if base == "" {
		return p
	}
	return strings.TrimPrefix(p, base+"/")
}
