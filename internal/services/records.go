package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/auth"
	"github.com/dmitrijs2005/medkeeper/internal/blobstore"
	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/dbx"
	"github.com/dmitrijs2005/medkeeper/internal/logging"
	"github.com/dmitrijs2005/medkeeper/internal/models"
	"github.com/dmitrijs2005/medkeeper/internal/records"
	"github.com/dmitrijs2005/medkeeper/internal/repositories/repomanager"
	"github.com/google/uuid"
)

// DefaultSensitiveFields are encrypted unless configured otherwise.
var DefaultSensitiveFields = []string{
	"healthHistory", "allergies", "medications", "diagnosis", "prescriptions", "emergencyContact",
}

// Authorizer is satisfied by *AuthService.
type Authorizer interface {
	Authorize(ctx context.Context, claims *auth.Claims, resource string, required ...auth.Permission) error
	LookupUser(ctx context.Context, id string) (*auth.User, error)
}

// RecordService stores and reads patient records through the record guard.
type RecordService struct {
	db          dbx.DBTX
	tx          dbx.TxRunner
	repomanager repomanager.RepositoryManager
	guard       *records.Guard
	blobs       blobstore.Store
	authz       Authorizer
	auditor     AuditLogger
	sensitive   []string
	log         logging.Logger
}

type RecordServiceDeps struct {
	DB          dbx.DBTX
	Tx          dbx.TxRunner
	Repos       repomanager.RepositoryManager
	Guard       *records.Guard
	Blobs       blobstore.Store
	Authz       Authorizer
	Auditor     AuditLogger
	Sensitive   []string
	Logger      logging.Logger
}

func NewRecordService(d RecordServiceDeps) *RecordService {
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if len(d.Sensitive) == 0 {
		d.Sensitive = DefaultSensitiveFields
	}
	return &RecordService{
		db:          d.DB,
		tx:          d.Tx,
		repomanager: d.Repos,
		guard:       d.Guard,
		blobs:       d.Blobs,
		authz:       d.Authz,
		auditor:     d.Auditor,
		sensitive:   d.Sensitive,
		log:         d.Logger.With("component", "record_service"),
	}
}

// authorize lets the owner in with ownPerm and anyone else with anyPerm.
func (s *RecordService) authorize(ctx context.Context, actor *auth.Claims, ownerID, resource string, ownPerm, anyPerm auth.Permission) error {
	required := []auth.Permission{anyPerm}
	if actor != nil && actor.Subject == ownerID {
		required = append(required, ownPerm)
	}
	return s.authz.Authorize(ctx, actor, resource, required...)
}

func (s *RecordService) audit(ctx context.Context, actor *auth.Claims, action, subjectID string, md map[string]any) {
	var err error
	if actor.Role == auth.RoleDoctor {
		name := actor.Subject
		if u, lerr := s.authz.LookupUser(ctx, actor.Subject); lerr == nil {
			name = u.Name
		}
		_, err = s.auditor.LogDoctorAction(ctx, action, subjectID, actor.Subject, name, md)
	} else {
		if md == nil {
			md = map[string]any{}
		}
		md["actor_id"] = actor.Subject
		_, err = s.auditor.LogAccess(ctx, action, subjectID, string(actor.Role), md)
	}
	recordAudit(ctx, s.log, err, action)
}

func (s *RecordService) isSensitive(name string) bool {
	for _, n := range s.sensitive {
		if n == name {
			return true
		}
	}
	return false
}

func toStored(ownerID string, r *records.Record) (*models.StoredRecord, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return &models.StoredRecord{
		ID:              r.ID,
		OwnerID:         ownerID,
		Payload:         payload,
		IntegrityDigest: r.IntegrityDigest,
		LastModified:    r.LastModified,
	}, nil
}

func fromStored(sr *models.StoredRecord) (*records.Record, error) {
	var r records.Record
	if err := json.Unmarshal(sr.Payload, &r); err != nil {
		return nil, fmt.Errorf("record %s: %w", sr.ID, err)
	}
	return &r, nil
}

// Create encrypts the sensitive fields of a new record for ownerID, seals it
// and stores it. The returned record is the stored, encrypted form.
func (s *RecordService) Create(ctx context.Context, actor *auth.Claims, ownerID string, fields map[string]string) (*records.Record, error) {
	if err := s.authorize(ctx, actor, ownerID, ownerID, auth.PermWriteOwnRecords, auth.PermWritePatientRecords); err != nil {
		return nil, err
	}
	if _, ok := fields["ownerId"]; ok {
		return nil, fmt.Errorf("%w: ownerId is set from the owner argument", common.ErrorValidation)
	}

	draft := records.New(uuid.NewString())
	draft.Fields["ownerId"] = ownerID
	for k, v := range fields {
		if s.isSensitive(k) {
			draft.Sensitive[k] = records.Plain(v)
		} else {
			draft.Fields[k] = v
		}
	}

	enc, err := s.guard.EncryptSensitiveFields(ctx, draft, s.sensitive)
	if err != nil {
		return nil, err
	}
	stored, err := toStored(ownerID, enc)
	if err != nil {
		return nil, err
	}
	if err := s.repomanager.Records(s.db).Create(ctx, stored); err != nil {
		return nil, fmt.Errorf("error storing record: %w", err)
	}

	s.audit(ctx, actor, "health_record_create", enc.ID, map[string]any{"owner_id": ownerID})
	return enc, nil
}

// Get verifies and decrypts a record. An integrity warning is returned with
// the data; a decryption failure returns no data.
func (s *RecordService) Get(ctx context.Context, actor *auth.Claims, recordID string) (*records.Opened, error) {
	sr, err := s.repomanager.Records(s.db).Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, sr.OwnerID, recordID, auth.PermReadOwnRecords, auth.PermReadPatientRecords); err != nil {
		return nil, err
	}

	opened, err := s.open(ctx, actor, sr)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, actor, "patient_record_view", recordID, map[string]any{
		"owner_id":          sr.OwnerID,
		"integrity_warning": opened.IntegrityWarning,
	})
	return opened, nil
}

func (s *RecordService) open(ctx context.Context, actor *auth.Claims, sr *models.StoredRecord) (*records.Opened, error) {
	rec, err := fromStored(sr)
	if err != nil {
		s.audit(ctx, actor, "record_decryption_failed", sr.ID, map[string]any{"error": err.Error()})
		return nil, err
	}
	opened, err := s.guard.Open(ctx, rec)
	if err != nil {
		if errors.Is(err, common.ErrRecordCorrupted) {
			s.audit(ctx, actor, "record_decryption_failed", sr.ID, map[string]any{"error": err.Error()})
		}
		return nil, err
	}
	return opened, nil
}

// List returns every record of ownerID, each verified and decrypted.
func (s *RecordService) List(ctx context.Context, actor *auth.Claims, ownerID string) ([]*records.Opened, error) {
	if err := s.authorize(ctx, actor, ownerID, ownerID, auth.PermReadOwnRecords, auth.PermReadPatientRecords); err != nil {
		return nil, err
	}

	rows, err := s.repomanager.Records(s.db).ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]*records.Opened, 0, len(rows))
	for _, sr := range rows {
		o, err := s.open(ctx, actor, sr)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}

	s.audit(ctx, actor, "patient_record_view", ownerID, map[string]any{"count": len(out)})
	return out, nil
}

// Update applies changes to a record and re-seals it. A record whose digest
// does not verify is not updated, since re-sealing would hide the tampering.
// An empty value clears a field.
func (s *RecordService) Update(ctx context.Context, actor *auth.Claims, recordID string, changes map[string]string) (*records.Record, error) {
	var updated *records.Record

	err := s.tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Records(tx)

		sr, err := repo.Get(ctx, recordID)
		if err != nil {
			return err
		}
		if err := s.authorize(ctx, actor, sr.OwnerID, recordID, auth.PermWriteOwnRecords, auth.PermWritePatientRecords); err != nil {
			return err
		}

		opened, err := s.open(ctx, actor, sr)
		if err != nil {
			return err
		}
		if opened.IntegrityWarning {
			return fmt.Errorf("record %s: %w", recordID, common.ErrIntegrityViolation)
		}

		rec := opened.Record
		for k, v := range changes {
			if k == "ownerId" {
				return fmt.Errorf("%w: ownerId cannot be changed", common.ErrorValidation)
			}
			if s.isSensitive(k) {
				rec.Sensitive[k] = records.Plain(v)
				continue
			}
			if v == "" {
				delete(rec.Fields, k)
				continue
			}
			rec.Fields[k] = v
		}

		enc, err := s.guard.EncryptSensitiveFields(ctx, rec, s.sensitive)
		if err != nil {
			return err
		}
		stored, err := toStored(sr.OwnerID, enc)
		if err != nil {
			return err
		}
		if err := repo.Update(ctx, stored); err != nil {
			return fmt.Errorf("error updating record: %w", err)
		}
		updated = enc
		return nil
	})
	if err != nil {
		return nil, err
	}

	changed := make([]string, 0, len(changes))
	for k := range changes {
		changed = append(changed, k)
	}
	s.audit(ctx, actor, "patient_record_update", recordID, map[string]any{"fields": changed})
	return updated, nil
}

// AttachDocument uploads an opaque blob and links it to a record.
func (s *RecordService) AttachDocument(ctx context.Context, actor *auth.Claims, recordID, contentType string, body []byte) (*models.Document, error) {
	sr, err := s.repomanager.Records(s.db).Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.Authorize(ctx, actor, recordID, auth.PermUploadDocuments); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, sr.OwnerID, recordID, auth.PermWriteOwnRecords, auth.PermWritePatientRecords); err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	key := blobstore.NewStorageKey(recordID)
	if err := s.blobs.Put(ctx, key, blobstore.Object{Body: body, ContentType: contentType}); err != nil {
		return nil, err
	}

	doc, err := s.repomanager.Documents(s.db).Create(ctx, &models.Document{
		ID:          uuid.NewString(),
		RecordID:    recordID,
		OwnerID:     sr.OwnerID,
		StorageKey:  key,
		ContentType: contentType,
		Size:        int64(len(body)),
	})
	if err != nil {
		if derr := s.blobs.Delete(ctx, key); derr != nil {
			s.log.Warn(ctx, "orphaned document blob", "key", key, "error", derr)
		}
		return nil, fmt.Errorf("error storing document: %w", err)
	}

	s.audit(ctx, actor, "document_upload", recordID, map[string]any{"document_id": doc.ID, "size": doc.Size})
	return doc, nil
}

func (s *RecordService) document(ctx context.Context, actor *auth.Claims, documentID string) (*models.Document, error) {
	doc, err := s.repomanager.Documents(s.db).Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, actor, doc.OwnerID, doc.RecordID, auth.PermReadOwnRecords, auth.PermReadPatientRecords); err != nil {
		return nil, err
	}
	return doc, nil
}

// FetchDocument returns the bytes of an attached document.
func (s *RecordService) FetchDocument(ctx context.Context, actor *auth.Claims, documentID string) (*models.Document, blobstore.Object, error) {
	doc, err := s.document(ctx, actor, documentID)
	if err != nil {
		return nil, blobstore.Object{}, err
	}
	obj, err := s.blobs.Get(ctx, doc.StorageKey)
	if err != nil {
		return nil, blobstore.Object{}, err
	}

	s.audit(ctx, actor, "document_download", doc.RecordID, map[string]any{"document_id": doc.ID})
	return doc, obj, nil
}

// DocumentURL returns a time-limited download link when the blob store can
// presign one.
func (s *RecordService) DocumentURL(ctx context.Context, actor *auth.Claims, documentID string, ttl time.Duration) (string, error) {
	p, ok := s.blobs.(blobstore.Presigner)
	if !ok {
		return "", fmt.Errorf("%w: blob store cannot presign urls", common.ErrorValidation)
	}
	doc, err := s.document(ctx, actor, documentID)
	if err != nil {
		return "", err
	}
	url, err := p.PresignGet(ctx, doc.StorageKey, ttl)
	if err != nil {
		return "", err
	}

	s.audit(ctx, actor, "document_download", doc.RecordID, map[string]any{"document_id": doc.ID, "presigned": true})
	return url, nil
}
