// Package attachments places uploaded image and audio files under the
// uploads tree and records their metadata.
package attachments

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"dmchat/models"
)

const (
	// ImagePrefix namespaces stored images.
	ImagePrefix = "uploads/images/"
	// AudioPrefix namespaces stored recordings.
	AudioPrefix = "uploads/recordings/"
	// TempDirName holds uploads that have not been placed yet.
	TempDirName = "uploads/tmp"
)

// ErrInvalidUpload marks an upload rejected because of what the caller sent.
var ErrInvalidUpload = errors.New("invalid upload")

// MetadataStore records attachment metadata.
type MetadataStore interface {
	SaveAttachment(ctx context.Context, attachment models.Attachment) error
	GetAttachment(ctx context.Context, ref string) (*models.Attachment, error)
	DeleteAttachment(ctx context.Context, ref string) error
}

// TempFile is an upload already written to local disk.
type TempFile struct {
	Path         string
	OriginalName string
}

// Store moves uploads to stable paths under Root. A Ref is the slash
// separated path relative to Root and is what image and audio messages carry
// as content.
type Store struct {
	root  string
	meta  MetadataStore
	now   func() time.Time
	moveF func(src, dst string) error
}

// NewStore returns a blob store rooted at root, creating the upload directories.
func NewStore(root string, meta MetadataStore) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("attachments root is required")
	}
	for _, dir := range []string{ImagePrefix, AudioPrefix, TempDirName} {
		if err := os.MkdirAll(filepath.Join(root, filepath.FromSlash(dir)), 0o700); err != nil {
			return nil, fmt.Errorf("create upload directory %q: %w", dir, err)
		}
	}
	return &Store{
		root:  root,
		meta:  meta,
		now:   time.Now,
		moveF: moveFile,
	}, nil
}

// Root returns the directory refs are relative to.
func (s *Store) Root() string {
	return s.root
}

// TempDir returns the directory callers should write raw uploads to.
func (s *Store) TempDir() string {
	return filepath.Join(s.root, filepath.FromSlash(TempDirName))
}

// Put moves file to <prefix><unixms><name> and records its metadata. On any
// failure the placed file is removed and no reference is returned.
// Caller mistakes are reported as ErrInvalidUpload.
func (s *Store) Put(ctx context.Context, file TempFile, kind models.MessageKind) (string, error) {
	prefix, err := prefixFor(kind)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidUpload, err)
	}
	name := sanitizeName(file.OriginalName)
	if name == "" {
		return "", fmt.Errorf("%w: original file name is required", ErrInvalidUpload)
	}

	info, err := os.Stat(file.Path)
	if err != nil {
		return "", fmt.Errorf("stat upload: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("upload %q is a directory", file.Path)
	}
	checksum, err := checksumHex(file.Path)
	if err != nil {
		return "", err
	}

	ref, dst, err := s.place(file.Path, prefix, name)
	if err != nil {
		return "", err
	}

	if s.meta != nil {
		err = s.meta.SaveAttachment(ctx, models.Attachment{
			Ref:          ref,
			Kind:         kind,
			OriginalName: name,
			Size:         info.Size(),
			Checksum:     checksum,
			StoredAt:     s.now().UnixMilli(),
		})
		if err != nil {
			_ = os.Remove(dst)
			return "", fmt.Errorf("record attachment %q: %w", ref, err)
		}
	}

	return ref, nil
}

// IsReference reports whether content is a ref this store placed for kind.
// The ref must have the expected shape, its file must exist, and when the
// store keeps metadata a row of the same kind must be recorded for it.
func (s *Store) IsReference(ctx context.Context, kind models.MessageKind, content string) (bool, error) {
	if !hasRefShape(kind, content) {
		return false, nil
	}

	info, err := os.Stat(s.pathOf(content))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat attachment %q: %w", content, err)
	}
	if !info.Mode().IsRegular() {
		return false, nil
	}

	if s.meta == nil {
		return true, nil
	}
	attachment, err := s.meta.GetAttachment(ctx, content)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("lookup attachment %q: %w", content, err)
	}
	return attachment.Kind == kind, nil
}

// Remove deletes a placed file and its metadata. It is used when the message
// that would have referenced the file could not be created.
func (s *Store) Remove(ctx context.Context, ref string) error {
	if !hasRefShape(models.KindImage, ref) && !hasRefShape(models.KindAudio, ref) {
		return fmt.Errorf("%w: %q is not an attachment ref", ErrInvalidUpload, ref)
	}
	if s.meta != nil {
		if err := s.meta.DeleteAttachment(ctx, ref); err != nil && !errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("delete attachment %q: %w", ref, err)
		}
	}
	if err := os.Remove(s.pathOf(ref)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove attachment file %q: %w", ref, err)
	}
	return nil
}

// place moves src to the first free <prefix><ms><name>, bumping ms while the
// destination already exists. moveF must fail with os.ErrExist rather than
// overwrite, so a name is only ever claimed by one caller.
func (s *Store) place(src, prefix, name string) (string, string, error) {
	ms := s.now().UnixMilli()
	for {
		ref := prefix + strconv.FormatInt(ms, 10) + name
		dst := s.pathOf(ref)
		err := s.moveF(src, dst)
		if err == nil {
			return ref, dst, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", "", fmt.Errorf("place upload %q: %w", ref, err)
		}
		ms++
	}
}

func (s *Store) pathOf(ref string) string {
	return filepath.Join(s.root, filepath.FromSlash(ref))
}

func hasRefShape(kind models.MessageKind, content string) bool {
	prefix, err := prefixFor(kind)
	if err != nil {
		return false
	}
	if !strings.HasPrefix(content, prefix) || len(content) == len(prefix) {
		return false
	}
	rest := content[len(prefix):]
	return !strings.Contains(rest, "/") && path.Clean(content) == content
}

func prefixFor(kind models.MessageKind) (string, error) {
	switch kind {
	case models.KindImage:
		return ImagePrefix, nil
	case models.KindAudio:
		return AudioPrefix, nil
	default:
		return "", fmt.Errorf("kind %q does not take an attachment", kind)
	}
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return ""
	}
	base := path.Base(name)
	if base == "." || base == "/" || base == ".." {
		return ""
	}
	return base
}

func checksumHex(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for checksum: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	hasher, err := blake2b.New256(nil)
	if err != nil {
		return "", fmt.Errorf("init checksum: %w", err)
	}
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// moveFile hard links src at dst and drops src, copying when linking is not
// possible. Both paths refuse an existing dst.
func moveFile(src, dst string) error {
	err := os.Link(src, dst)
	if err == nil {
		if err := os.Remove(src); err != nil {
			_ = os.Remove(dst)
			return err
		}
		return nil
	}
	if errors.Is(err, os.ErrExist) {
		return err
	}
	return copyAndRemove(src, dst)
}

func copyAndRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	if err := os.Remove(src); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return nil
}
