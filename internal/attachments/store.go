// Package attachments copies external files into a task's attachments
// directory and keeps the task's frontmatter list in sync with disk.
package attachments

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/patleeman/taskfactory/internal/logger"
	"github.com/patleeman/taskfactory/internal/models"
	"github.com/patleeman/taskfactory/internal/taskerr"
	"github.com/patleeman/taskfactory/internal/workspace"
)

// TaskUpdater is the slice of the task store the attachment store needs.
type TaskUpdater interface {
	Read(id string) (*models.Task, error)
	Update(id string, mutate func(*models.Task) error) (*models.Task, error)
}

// Store manages one workspace's attachment files.
type Store struct {
	paths workspace.Paths
	tasks TaskUpdater
	log   logger.Logger
	clock func() time.Time
}

// New creates an attachment store over the workspace layout.
func New(paths workspace.Paths, tasks TaskUpdater, log logger.Logger) *Store {
	return &Store{
		paths: paths,
		tasks: tasks,
		log:   logger.OrNop(log),
		clock: time.Now,
	}
}

// Attach copies sourcePath into the task's attachments directory and appends
// the attachment record to the task. The stored name is derived from a fresh
// attachment id, never from user input. If the task write fails, the copied
// file is removed again.
func (s *Store) Attach(taskID, sourcePath, filenameOverride string) (models.Attachment, error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		if os.IsNotExist(err) {
			return models.Attachment{}, taskerr.NotFoundf("attachment source %q", sourcePath)
		}
		return models.Attachment{}, fmt.Errorf("failed to stat attachment source: %w", err)
	}
	if info.IsDir() {
		return models.Attachment{}, taskerr.Validationf("attachment source %q is a directory", sourcePath)
	}
	if _, err := s.tasks.Read(taskID); err != nil {
		return models.Attachment{}, err
	}

	displayName := filenameOverride
	if displayName == "" {
		displayName = filepath.Base(sourcePath)
	}
	ext := strings.ToLower(filepath.Ext(displayName))

	attachment := models.Attachment{
		ID:         uuid.NewString(),
		FileName:   displayName,
		MimeType:   mimeByExtension(ext),
		Size:       info.Size(),
		CreatedAt:  s.clock().UTC(),
		StoredName: "",
	}
	attachment.StoredName = attachment.ID + ext

	destPath := filepath.Join(s.paths.AttachmentsDir(taskID), attachment.StoredName)
	if err := copyFile(sourcePath, destPath); err != nil {
		return models.Attachment{}, err
	}

	if _, err := s.tasks.Update(taskID, func(t *models.Task) error {
		t.Attachments = append(t.Attachments, attachment)
		return nil
	}); err != nil {
		// Roll the copy back so disk stays consistent with frontmatter.
		if rmErr := os.Remove(destPath); rmErr != nil {
			s.log.Warnf("failed to remove orphaned attachment %s: %v", destPath, rmErr)
		}
		return models.Attachment{}, err
	}
	return attachment, nil
}

// Delete removes the attachment file and its frontmatter entry.
func (s *Store) Delete(taskID, attachmentID string) error {
	var removed *models.Attachment
	if _, err := s.tasks.Update(taskID, func(t *models.Task) error {
		for i, a := range t.Attachments {
			if a.ID == attachmentID {
				att := a
				removed = &att
				t.Attachments = append(t.Attachments[:i], t.Attachments[i+1:]...)
				return nil
			}
		}
		return taskerr.NotFoundf("attachment %q on task %q", attachmentID, taskID)
	}); err != nil {
		return err
	}

	path := filepath.Join(s.paths.AttachmentsDir(taskID), removed.StoredName)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove attachment file: %w", err)
	}
	return nil
}

// List returns the task's attachment records.
func (s *Store) List(taskID string) ([]models.Attachment, error) {
	task, err := s.tasks.Read(taskID)
	if err != nil {
		return nil, err
	}
	return task.Attachments, nil
}

// Path returns the on-disk location of an attachment.
func (s *Store) Path(taskID string, attachment models.Attachment) string {
	return filepath.Join(s.paths.AttachmentsDir(taskID), attachment.StoredName)
}

// Image is an attachment's bytes loaded for prompt construction.
type Image struct {
	Attachment models.Attachment
	Data       []byte
}

// LoadImages reads image attachments into memory. Non-image attachments are
// left on disk; the prompt references them by path so the agent can read
// them with its own file tools.
func (s *Store) LoadImages(task *models.Task) ([]Image, error) {
	var images []Image
	for _, attachment := range task.Attachments {
		if !strings.HasPrefix(attachment.MimeType, "image/") {
			continue
		}
		data, err := os.ReadFile(s.Path(task.ID, attachment))
		if err != nil {
			return nil, fmt.Errorf("failed to load image attachment %s: %w", attachment.ID, err)
		}
		images = append(images, Image{Attachment: attachment, Data: data})
	}
	return images, nil
}

// PromptSection renders the non-image attachments as a markdown list of
// paths for inclusion in the agent prompt. Empty when there are none.
func (s *Store) PromptSection(task *models.Task) string {
	var sb strings.Builder
	for _, attachment := range task.Attachments {
		if strings.HasPrefix(attachment.MimeType, "image/") {
			continue
		}
		if sb.Len() == 0 {
			sb.WriteString("## Attached Files\n\n")
		}
		fmt.Fprintf(&sb, "- %s (%s): %s\n", attachment.FileName, attachment.MimeType, s.Path(task.ID, attachment))
	}
	return sb.String()
}

// mimeByExtension infers a MIME type from the file extension, falling back
// to application/octet-stream.
func mimeByExtension(ext string) string {
	if ext == "" {
		return "application/octet-stream"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		// Strip any charset parameter; frontmatter stores the bare type.
		if i := strings.IndexByte(t, ';'); i >= 0 {
			t = strings.TrimSpace(t[:i])
		}
		return t
	}
	switch ext {
	case ".md":
		return "text/markdown"
	case ".log":
		return "text/plain"
	case ".jsonl":
		return "application/x-ndjson"
	default:
		return "application/octet-stream"
	}
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create attachments directory: %w", err)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open attachment source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create attachment file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		os.Remove(dst)
		return fmt.Errorf("failed to copy attachment: %w", err)
	}
	return out.Sync()
}
