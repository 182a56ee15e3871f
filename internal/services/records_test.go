package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/auth"
	"github.com/dmitrijs2005/medkeeper/internal/blobstore"
	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/records"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var patientFields = map[string]string{
	"name":          "Jane Roe",
	"bloodType":     "A+",
	"healthHistory": "asthma",
	"medications":   "salbutamol",
}

func TestCreateAndGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	worker := f.signUp(t, "alice", auth.RoleWorker)

	rec, err := f.records.Create(ctx, worker, worker.Subject, patientFields)
	require.NoError(t, err)
	assert.Equal(t, records.KindCipher, rec.Sensitive["healthHistory"].Kind)
	assert.Equal(t, records.Cipher(""), rec.Sensitive["allergies"])

	stored, err := f.db.Records(nil).Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.NotContains(t, string(stored.Payload), "asthma")
	assert.NotContains(t, string(stored.Payload), "salbutamol")
	assert.Contains(t, string(stored.Payload), "healthHistory_encrypted")
	assert.Equal(t, rec.IntegrityDigest, stored.IntegrityDigest)

	opened, err := f.records.Get(ctx, worker, rec.ID)
	require.NoError(t, err)
	assert.False(t, opened.IntegrityWarning)
	v, ok := opened.Record.Value("healthHistory")
	require.True(t, ok)
	assert.Equal(t, "asthma", v)
	assert.Equal(t, "Jane Roe", opened.Record.Fields["name"])
	assert.Equal(t, worker.Subject, opened.Record.Fields["ownerId"])

	f.lastEvent(t, "health_record_create")
	view := f.lastEvent(t, "patient_record_view")
	assert.Equal(t, worker.Subject, view.Metadata["actor_id"])
	assert.Equal(t, "worker", view.ActorRole)
}

func TestCreate_ForeignOwnerDenied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.signUp(t, "alice", auth.RoleWorker)
	bob := f.signUp(t, "bobby", auth.RoleWorker)

	_, err := f.records.Create(ctx, alice, bob.Subject, patientFields)
	assert.ErrorIs(t, err, common.ErrInsufficientPermission)

	rec, err := f.records.Create(ctx, bob, bob.Subject, patientFields)
	require.NoError(t, err)
	_, err = f.records.Get(ctx, alice, rec.ID)
	assert.ErrorIs(t, err, common.ErrInsufficientPermission)
	f.lastEvent(t, "unauthorized_access_attempt")
}

func TestCreate_OwnerFieldNotOverridable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.signUp(t, "alice", auth.RoleWorker)
	bob := f.signUp(t, "bobby", auth.RoleWorker)

	fields := map[string]string{"name": "Jane Roe", "ownerId": bob.Subject}
	_, err := f.records.Create(ctx, alice, alice.Subject, fields)
	assert.ErrorIs(t, err, common.ErrorValidation)

	list, err := f.records.List(ctx, bob, bob.Subject)
	require.NoError(t, err)
	assert.Empty(t, list)
	list, err = f.records.List(ctx, alice, alice.Subject)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestGet_DoctorActionIsAttributed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	worker := f.signUp(t, "alice", auth.RoleWorker)
	doctor := f.signUp(t, "house", auth.RoleDoctor)

	rec, err := f.records.Create(ctx, worker, worker.Subject, patientFields)
	require.NoError(t, err)

	_, err = f.records.Get(ctx, doctor, rec.ID)
	require.NoError(t, err)

	e := f.lastEvent(t, "patient_record_view")
	assert.Equal(t, "doctor", e.ActorRole)
	assert.Equal(t, rec.ID, e.SubjectID)
	assert.Equal(t, doctor.Subject, e.Metadata["actor_id"])
	assert.Equal(t, "house Example", e.Metadata["actor_name"])
	assert.Equal(t, true, e.Metadata["doctor_action"])
}

func TestGet_NotFound(t *testing.T) {
	f := newFixture(t)
	worker := f.signUp(t, "alice", auth.RoleWorker)

	_, err := f.records.Get(context.Background(), worker, "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

// tamper rewrites one field of the stored payload without resealing.
func tamper(t *testing.T, f *fixture, id, field, value string) {
	t.Helper()
	ctx := context.Background()
	sr, err := f.db.Records(nil).Get(ctx, id)
	require.NoError(t, err)

	var flat map[string]string
	require.NoError(t, json.Unmarshal(sr.Payload, &flat))
	flat[field] = value
	sr.Payload, err = json.Marshal(flat)
	require.NoError(t, err)
	require.NoError(t, f.db.Records(nil).Update(ctx, sr))
}

func TestGet_IntegrityWarning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	worker := f.signUp(t, "alice", auth.RoleWorker)

	rec, err := f.records.Create(ctx, worker, worker.Subject, patientFields)
	require.NoError(t, err)
	tamper(t, f, rec.ID, "bloodType", "O-")

	opened, err := f.records.Get(ctx, worker, rec.ID)
	require.NoError(t, err)
	assert.True(t, opened.IntegrityWarning)
	assert.Equal(t, "O-", opened.Record.Fields["bloodType"])

	f.lastEvent(t, "integrity_breach_detected")
	assert.Equal(t, true, f.lastEvent(t, "patient_record_view").Metadata["integrity_warning"])
}

func TestGet_TamperedCiphertext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	worker := f.signUp(t, "alice", auth.RoleWorker)

	rec, err := f.records.Create(ctx, worker, worker.Subject, patientFields)
	require.NoError(t, err)
	tamper(t, f, rec.ID, "healthHistory_encrypted", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")

	opened, err := f.records.Get(ctx, worker, rec.ID)
	assert.Nil(t, opened)
	assert.ErrorIs(t, err, common.ErrRecordCorrupted)
	f.lastEvent(t, "record_decryption_failed")
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	worker := f.signUp(t, "alice", auth.RoleWorker)
	doctor := f.signUp(t, "house", auth.RoleDoctor)

	rec, err := f.records.Create(ctx, worker, worker.Subject, patientFields)
	require.NoError(t, err)

	updated, err := f.records.Update(ctx, doctor, rec.ID, map[string]string{
		"diagnosis": "mild persistent asthma",
		"bloodType": "",
		"ward":      "B",
	})
	require.NoError(t, err)
	assert.NotEqual(t, rec.IntegrityDigest, updated.IntegrityDigest)
	assert.Equal(t, records.KindCipher, updated.Sensitive["diagnosis"].Kind)

	opened, err := f.records.Get(ctx, worker, rec.ID)
	require.NoError(t, err)
	assert.False(t, opened.IntegrityWarning)
	v, _ := opened.Record.Value("diagnosis")
	assert.Equal(t, "mild persistent asthma", v)
	v, _ = opened.Record.Value("healthHistory")
	assert.Equal(t, "asthma", v)
	assert.NotContains(t, opened.Record.Fields, "bloodType")
	assert.Equal(t, "B", opened.Record.Fields["ward"])

	e := f.lastEvent(t, "patient_record_update")
	assert.Equal(t, "doctor", e.ActorRole)
}

func TestUpdate_Rejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.signUp(t, "alice", auth.RoleWorker)
	bob := f.signUp(t, "bobby", auth.RoleWorker)

	rec, err := f.records.Create(ctx, alice, alice.Subject, patientFields)
	require.NoError(t, err)

	_, err = f.records.Update(ctx, bob, rec.ID, map[string]string{"ward": "C"})
	assert.ErrorIs(t, err, common.ErrInsufficientPermission)

	_, err = f.records.Update(ctx, alice, rec.ID, map[string]string{"ownerId": bob.Subject})
	assert.ErrorIs(t, err, common.ErrorValidation)

	_, err = f.records.Update(ctx, alice, "missing", map[string]string{"ward": "C"})
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestUpdate_RefusesToResealTamperedRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	worker := f.signUp(t, "alice", auth.RoleWorker)

	rec, err := f.records.Create(ctx, worker, worker.Subject, patientFields)
	require.NoError(t, err)
	tamper(t, f, rec.ID, "bloodType", "O-")

	_, err = f.records.Update(ctx, worker, rec.ID, map[string]string{"ward": "C"})
	assert.ErrorIs(t, err, common.ErrIntegrityViolation)

	sr, err := f.db.Records(nil).Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.IntegrityDigest, sr.IntegrityDigest, "stored digest still exposes the tampering")
}

func TestList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	worker := f.signUp(t, "alice", auth.RoleWorker)
	other := f.signUp(t, "bobby", auth.RoleWorker)

	for i := 0; i < 3; i++ {
		_, err := f.records.Create(ctx, worker, worker.Subject, patientFields)
		require.NoError(t, err)
	}
	_, err := f.records.Create(ctx, other, other.Subject, patientFields)
	require.NoError(t, err)

	list, err := f.records.List(ctx, worker, worker.Subject)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for _, o := range list {
		v, _ := o.Record.Value("medications")
		assert.Equal(t, "salbutamol", v)
	}
	assert.Equal(t, 3, f.lastEvent(t, "patient_record_view").Metadata["count"])

	_, err = f.records.List(ctx, worker, other.Subject)
	assert.ErrorIs(t, err, common.ErrInsufficientPermission)
}

type recordingBlobs struct {
	*blobstore.MemoryStore
	deleted []string
}

func (r *recordingBlobs) Delete(ctx context.Context, key string) error {
	r.deleted = append(r.deleted, key)
	return r.MemoryStore.Delete(ctx, key)
}

func TestDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	worker := f.signUp(t, "alice", auth.RoleWorker)
	doctor := f.signUp(t, "house", auth.RoleDoctor)

	rec, err := f.records.Create(ctx, worker, worker.Subject, patientFields)
	require.NoError(t, err)

	doc, err := f.records.AttachDocument(ctx, worker, rec.ID, "", []byte("%PDF-1.7"))
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", doc.ContentType)
	assert.Equal(t, int64(8), doc.Size)
	assert.Equal(t, worker.Subject, doc.OwnerID)
	assert.Contains(t, doc.StorageKey, "documents/"+rec.ID+"/")
	f.lastEvent(t, "document_upload")

	got, obj, err := f.records.FetchDocument(ctx, doctor, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)
	assert.Equal(t, []byte("%PDF-1.7"), obj.Body)
	assert.Equal(t, "doctor", f.lastEvent(t, "document_download").ActorRole)

	_, err = f.records.DocumentURL(ctx, worker, doc.ID, time.Minute)
	assert.ErrorIs(t, err, common.ErrorValidation, "memory store cannot presign")
}

func TestAttachDocument_RemovesBlobWhenMetadataFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	worker := f.signUp(t, "alice", auth.RoleWorker)

	blobs := &recordingBlobs{MemoryStore: blobstore.NewMemoryStore()}
	f.records.blobs = blobs

	rec, err := f.records.Create(ctx, worker, worker.Subject, patientFields)
	require.NoError(t, err)

	f.db.docErr = errors.New("connection reset")
	_, err = f.records.AttachDocument(ctx, worker, rec.ID, "image/png", []byte{1, 2, 3})
	require.Error(t, err)

	require.Len(t, blobs.deleted, 1)
	_, err = blobs.Get(ctx, blobs.deleted[0])
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestAttachDocument_Denied(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.signUp(t, "alice", auth.RoleWorker)
	bob := f.signUp(t, "bobby", auth.RoleWorker)

	rec, err := f.records.Create(ctx, alice, alice.Subject, patientFields)
	require.NoError(t, err)

	_, err = f.records.AttachDocument(ctx, bob, rec.ID, "image/png", []byte{1})
	assert.ErrorIs(t, err, common.ErrInsufficientPermission)
}
