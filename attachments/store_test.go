package attachments

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"dmchat/models"
)

type recordingMeta struct {
	mu      sync.Mutex
	saved   []models.Attachment
	err     error
	lookErr error
}

func (r *recordingMeta) SaveAttachment(_ context.Context, attachment models.Attachment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	for _, existing := range r.saved {
		if existing.Ref == attachment.Ref {
			return errors.New("duplicate ref " + attachment.Ref)
		}
	}
	r.saved = append(r.saved, attachment)
	return nil
}

func (r *recordingMeta) GetAttachment(_ context.Context, ref string) (*models.Attachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lookErr != nil {
		return nil, r.lookErr
	}
	for _, existing := range r.saved {
		if existing.Ref == ref {
			found := existing
			return &found, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *recordingMeta) DeleteAttachment(_ context.Context, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.saved {
		if existing.Ref == ref {
			r.saved = append(r.saved[:i], r.saved[i+1:]...)
			return nil
		}
	}
	return models.ErrNotFound
}

func newTestBlobStore(t *testing.T, meta MetadataStore) *Store {
	t.Helper()

	store, err := NewStore(t.TempDir(), meta)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	store.now = func() time.Time { return time.UnixMilli(1_700_000_000_123) }
	return store
}

func writeTemp(t *testing.T, store *Store, content string) string {
	t.Helper()

	path := filepath.Join(store.TempDir(), "upload-"+strings.ReplaceAll(t.Name(), "/", "_"))
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp upload: %v", err)
	}
	return path
}

func TestPutPlacesImageAndRecordsMetadata(t *testing.T) {
	meta := &recordingMeta{}
	store := newTestBlobStore(t, meta)
	src := writeTemp(t, store, "png-bytes")

	ref, err := store.Put(context.Background(), TempFile{Path: src, OriginalName: "../../cat.png"}, models.KindImage)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if ref != "uploads/images/1700000000123cat.png" {
		t.Fatalf("unexpected ref: %q", ref)
	}
	if _, err := os.Stat(src); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected temp file to be moved, stat err: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(store.Root(), filepath.FromSlash(ref)))
	if err != nil || string(data) != "png-bytes" {
		t.Fatalf("placed file mismatch: %q %v", data, err)
	}

	if len(meta.saved) != 1 {
		t.Fatalf("expected one metadata row, got %d", len(meta.saved))
	}
	got := meta.saved[0]
	if got.Ref != ref || got.Kind != models.KindImage || got.Size != int64(len("png-bytes")) || got.OriginalName != "cat.png" {
		t.Fatalf("unexpected metadata: %+v", got)
	}
	if len(got.Checksum) != 64 {
		t.Fatalf("expected blake2b-256 hex checksum, got %q", got.Checksum)
	}
	if ok, err := store.IsReference(context.Background(), models.KindImage, ref); err != nil || !ok {
		t.Fatalf("expected ref to be recognised, got %v %v", ok, err)
	}
}

func TestPutAudioAvoidsCollisions(t *testing.T) {
	store := newTestBlobStore(t, nil)

	first, err := store.Put(context.Background(), TempFile{Path: writeTemp(t, store, "a"), OriginalName: "voice.ogg"}, models.KindAudio)
	if err != nil {
		t.Fatalf("first Put failed: %v", err)
	}
	second, err := store.Put(context.Background(), TempFile{Path: writeTemp(t, store, "b"), OriginalName: "voice.ogg"}, models.KindAudio)
	if err != nil {
		t.Fatalf("second Put failed: %v", err)
	}
	if !strings.HasPrefix(first, AudioPrefix) || first == second {
		t.Fatalf("expected distinct recording refs, got %q and %q", first, second)
	}
}

func TestPutRejectsInvalidInput(t *testing.T) {
	store := newTestBlobStore(t, nil)
	src := writeTemp(t, store, "x")

	if _, err := store.Put(context.Background(), TempFile{Path: src, OriginalName: "a.txt"}, models.KindText); !errors.Is(err, ErrInvalidUpload) {
		t.Fatalf("expected text kind to be rejected as invalid, got %v", err)
	}
	if _, err := store.Put(context.Background(), TempFile{Path: src, OriginalName: "  "}, models.KindImage); !errors.Is(err, ErrInvalidUpload) {
		t.Fatalf("expected blank name to be rejected as invalid, got %v", err)
	}
	_, err := store.Put(context.Background(), TempFile{Path: src + ".missing", OriginalName: "a.png"}, models.KindImage)
	if err == nil || errors.Is(err, ErrInvalidUpload) {
		t.Fatalf("expected missing upload to fail as an internal error, got %v", err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Fatalf("rejected upload must stay in place: %v", err)
	}
}

func TestPutRollsBackFileWhenMetadataFails(t *testing.T) {
	cause := errors.New("disk full")
	store := newTestBlobStore(t, &recordingMeta{err: cause})

	_, err := store.Put(context.Background(), TempFile{Path: writeTemp(t, store, "x"), OriginalName: "a.png"}, models.KindImage)
	if !errors.Is(err, cause) {
		t.Fatalf("expected metadata error, got %v", err)
	}
	entries, err := os.ReadDir(filepath.Join(store.Root(), filepath.FromSlash(ImagePrefix)))
	if err != nil {
		t.Fatalf("read images dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected placed file to be removed, found %d", len(entries))
	}
}

func TestPutFallsBackToCopy(t *testing.T) {
	store := newTestBlobStore(t, nil)
	store.moveF = copyAndRemove

	src := writeTemp(t, store, "copied")
	ref, err := store.Put(context.Background(), TempFile{Path: src, OriginalName: "a.png"}, models.KindImage)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := os.Stat(src); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected source removed after copy")
	}
	data, err := os.ReadFile(filepath.Join(store.Root(), filepath.FromSlash(ref)))
	if err != nil || string(data) != "copied" {
		t.Fatalf("expected copied file, got %q %v", data, err)
	}
}

func TestPutSameNameSameMillisecondKeepsBothFiles(t *testing.T) {
	meta := &recordingMeta{}
	store := newTestBlobStore(t, meta)
	ctx := context.Background()

	var (
		nested    bool
		innerRef  string
		innerErr  error
		innerPath = writeTemp(t, store, "second")
	)
	store.moveF = func(src, dst string) error {
		if !nested {
			nested = true
			innerRef, innerErr = store.Put(ctx, TempFile{Path: innerPath, OriginalName: "cat.png"}, models.KindImage)
		}
		return moveFile(src, dst)
	}

	outerPath := filepath.Join(store.TempDir(), "outer")
	if err := os.WriteFile(outerPath, []byte("first"), 0o600); err != nil {
		t.Fatalf("write temp upload: %v", err)
	}
	outerRef, err := store.Put(ctx, TempFile{Path: outerPath, OriginalName: "cat.png"}, models.KindImage)
	if err != nil {
		t.Fatalf("outer Put failed: %v", err)
	}
	if innerErr != nil {
		t.Fatalf("inner Put failed: %v", innerErr)
	}
	if innerRef != "uploads/images/1700000000123cat.png" || outerRef != "uploads/images/1700000000124cat.png" {
		t.Fatalf("unexpected refs: inner %q outer %q", innerRef, outerRef)
	}

	for ref, want := range map[string]string{innerRef: "second", outerRef: "first"} {
		data, err := os.ReadFile(filepath.Join(store.Root(), filepath.FromSlash(ref)))
		if err != nil || string(data) != want {
			t.Fatalf("%s: expected %q, got %q %v", ref, want, data, err)
		}
		if ok, err := store.IsReference(ctx, models.KindImage, ref); err != nil || !ok {
			t.Fatalf("%s: expected recorded ref, got %v %v", ref, ok, err)
		}
	}
	if len(meta.saved) != 2 {
		t.Fatalf("expected two metadata rows, got %d", len(meta.saved))
	}
}

func TestMoveFileRefusesExistingDestination(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	if err := os.WriteFile(src, []byte("new"), 0o600); err != nil {
		t.Fatalf("write src: %v", err)
	}
	if err := os.WriteFile(dst, []byte("old"), 0o600); err != nil {
		t.Fatalf("write dst: %v", err)
	}

	for name, move := range map[string]func(string, string) error{"link": moveFile, "copy": copyAndRemove} {
		if err := move(src, dst); !errors.Is(err, os.ErrExist) {
			t.Fatalf("%s: expected ErrExist, got %v", name, err)
		}
		data, err := os.ReadFile(dst)
		if err != nil || string(data) != "old" {
			t.Fatalf("%s: existing file must be untouched, got %q %v", name, data, err)
		}
		if _, err := os.Stat(src); err != nil {
			t.Fatalf("%s: source must stay in place: %v", name, err)
		}
	}
}

func TestIsReferenceRequiresRecordedBlob(t *testing.T) {
	meta := &recordingMeta{}
	store := newTestBlobStore(t, meta)
	ctx := context.Background()

	ref, err := store.Put(ctx, TempFile{Path: writeTemp(t, store, "x"), OriginalName: "cat.png"}, models.KindImage)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	forged := "uploads/images/1nothing.png"
	if ok, err := store.IsReference(ctx, models.KindImage, forged); err != nil || ok {
		t.Fatalf("forged ref accepted: %v %v", ok, err)
	}

	// A file dropped into the tree without metadata is not a stored attachment.
	stray := "uploads/images/2stray.png"
	if err := os.WriteFile(filepath.Join(store.Root(), filepath.FromSlash(stray)), []byte("x"), 0o600); err != nil {
		t.Fatalf("write stray file: %v", err)
	}
	if ok, err := store.IsReference(ctx, models.KindImage, stray); err != nil || ok {
		t.Fatalf("unrecorded file accepted: %v %v", ok, err)
	}

	if ok, err := store.IsReference(ctx, models.KindAudio, ref); err != nil || ok {
		t.Fatalf("image ref accepted as audio: %v %v", ok, err)
	}

	cause := errors.New("db down")
	meta.lookErr = cause
	if _, err := store.IsReference(ctx, models.KindImage, ref); !errors.Is(err, cause) {
		t.Fatalf("expected lookup failure, got %v", err)
	}
}

func TestRemoveDeletesFileAndMetadata(t *testing.T) {
	meta := &recordingMeta{}
	store := newTestBlobStore(t, meta)
	ctx := context.Background()

	ref, err := store.Put(ctx, TempFile{Path: writeTemp(t, store, "x"), OriginalName: "voice.ogg"}, models.KindAudio)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Remove(ctx, ref); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.Root(), filepath.FromSlash(ref))); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected file removed, stat err: %v", err)
	}
	if len(meta.saved) != 0 {
		t.Fatalf("expected metadata removed, got %+v", meta.saved)
	}
	if err := store.Remove(ctx, ref); err != nil {
		t.Fatalf("second Remove should be a no-op, got %v", err)
	}
	if err := store.Remove(ctx, "uploads/tmp/x"); !errors.Is(err, ErrInvalidUpload) {
		t.Fatalf("expected non-attachment path to be refused, got %v", err)
	}
}

func TestRefShape(t *testing.T) {
	cases := []struct {
		kind    models.MessageKind
		content string
		want    bool
	}{
		{models.KindImage, "uploads/images/1cat.png", true},
		{models.KindAudio, "uploads/recordings/1voice.ogg", true},
		{models.KindImage, "uploads/recordings/1voice.ogg", false},
		{models.KindImage, "uploads/images/", false},
		{models.KindImage, "uploads/images/../secret", false},
		{models.KindImage, "uploads/images/a/b.png", false},
		{models.KindText, "uploads/images/1cat.png", false},
		{models.KindImage, "https://example.test/cat.png", false},
	}
	for _, tc := range cases {
		if got := hasRefShape(tc.kind, tc.content); got != tc.want {
			t.Fatalf("hasRefShape(%s, %q) = %v, want %v", tc.kind, tc.content, got, tc.want)
		}
	}
}
