package triggers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/jcoler76/nectar-api-sub011/pkg/domain"
)

// fileAuditTTL bounds how long upload audit records are retained in the
// key-value store.
const fileAuditTTL = 7 * 24 * time.Hour

// executable magic numbers rejected regardless of declared type.
var executableMagics = [][]byte{
	{'M', 'Z'},                   // PE
	{0x7f, 'E', 'L', 'F'},        // ELF
	{0xfe, 0xed, 0xfa, 0xce},     // Mach-O 32-bit
	{0xfe, 0xed, 0xfa, 0xcf},     // Mach-O 64-bit
	{0xcf, 0xfa, 0xed, 0xfe},     // Mach-O 64-bit LE
	{0xca, 0xfe, 0xba, 0xbe},     // Mach-O universal / Java class
	{'#', '!', '/'},              // shebang
	{'M', 'S', 'C', 'F'},         // CAB
	{0x4c, 0x00, 0x00, 0x00, 0x01, 0x14, 0x02, 0x00}, // Windows shortcut
}

var scriptMarkers = []string{
	"<script",
	"<?php",
	"javascript:",
	"vbscript:",
}

// FileUpload is a normalized file trigger request.
type FileUpload struct {
	Filename     string
	Content      []byte
	DeclaredType string
	Token        string
	SourceIP     string
}

// HandleFile admits an uploaded file against the workflow's file trigger
// node. Content validation runs after authentication so rejection codes
// never leak content analysis to unauthenticated callers.
func (s *Service) HandleFile(ctx context.Context, workflowID string, up FileUpload) error {
	wf, node, err := s.resolve(ctx, workflowID, domain.NodeTriggerFile)
	if err != nil {
		return s.recordRejection(domain.TriggerSourceFile, err)
	}

	secret := configString(node.Config, "token", "secret")
	if res := s.gate.ValidateSharedToken(up.Token, secret); !res.OK {
		return s.recordRejection(domain.TriggerSourceFile, rejectGate(res))
	}

	detected, err := s.validateFile(node, up)
	if err != nil {
		return s.recordRejection(domain.TriggerSourceFile, err)
	}

	sum := sha256.Sum256(up.Content)
	contentHash := hex.EncodeToString(sum[:])
	s.auditUpload(ctx, wf.ID, up.Filename, contentHash, len(up.Content))

	metadata := newMetadata(domain.TriggerSourceFile, up.SourceIP)
	metadata.ContentHash = contentHash

	payload := domain.TriggerPayload{
		WorkflowID:    wf.ID,
		TriggerNodeID: node.ID,
		Data: map[string]any{
			"filename":     up.Filename,
			"size":         len(up.Content),
			"content_type": detected,
			"content_hash": contentHash,
			"content":      up.Content,
		},
		Metadata: metadata,
	}
	if err := s.admit(ctx, wf, node, payload); err != nil {
		return s.recordRejection(domain.TriggerSourceFile, err)
	}
	return nil
}

// validateFile enforces the node's size ceiling, the type allowlist and
// the hostile-content scan. Returns the sniffed MIME type on success.
func (s *Service) validateFile(node *domain.Node, up FileUpload) (string, error) {
	maxSize := s.defaults.MaxFileSize
	if v, ok := configNumber(node.Config, "max_size_bytes"); ok && v > 0 && int64(v) < maxSize {
		maxSize = int64(v)
	}
	if int64(len(up.Content)) > maxSize {
		return "", reject(CodeFileTooLarge,
			fmt.Sprintf("file is %d bytes, limit is %d", len(up.Content), maxSize))
	}
	if len(up.Content) == 0 {
		return "", reject(CodeUnsupportedFileType, "file is empty")
	}

	// Sniff the real type; the declared Content-Type is untrusted input.
	detected := mimetype.Detect(up.Content)

	allowed := s.defaults.AllowedFileTypes
	if raw, ok := node.Config["allowed_types"].([]any); ok && len(raw) > 0 {
		allowed = allowed[:0:0]
		for _, v := range raw {
			if t, ok := v.(string); ok {
				allowed = append(allowed, t)
			}
		}
	}
	if !typeAllowed(detected, up.Filename, allowed) {
		return "", reject(CodeUnsupportedFileType,
			fmt.Sprintf("type %s is not accepted", detected.String()))
	}

	if reason := scanContent(up.Content); reason != "" {
		s.logger.Warn("rejected hostile upload",
			zap.String("filename", up.Filename),
			zap.String("reason", reason))
		return "", reject(CodeMaliciousContent, "file content failed safety checks")
	}

	return detected.String(), nil
}

// typeAllowed matches the sniffed MIME type (including its parent chain,
// so text/csv passes a text/plain allowlist) or the filename extension
// against the allowlist.
func typeAllowed(detected *mimetype.MIME, filename string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	for _, entry := range allowed {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			for m := detected; m != nil; m = m.Parent() {
				if m.Is(entry) {
					return true
				}
			}
			continue
		}
		if ext == entry {
			return true
		}
	}
	return false
}

// scanContent looks for executable magic numbers and embedded script
// markers. Returns an empty string when the content looks safe.
func scanContent(content []byte) string {
	for _, magic := range executableMagics {
		if bytes.HasPrefix(content, magic) {
			return "executable magic number"
		}
	}

	head := content
	if len(head) > 8192 {
		head = head[:8192]
	}
	lowered := bytes.ToLower(head)
	for _, marker := range scriptMarkers {
		if bytes.Contains(lowered, []byte(marker)) {
			return "embedded script marker"
		}
	}
	return ""
}

// auditUpload records the upload fingerprint for later forensics. Failures
// are logged and ignored; the audit trail is best-effort.
func (s *Service) auditUpload(ctx context.Context, workflowID, filename, contentHash string, size int) {
	key := fmt.Sprintf("upload:%s:%s", workflowID, contentHash)
	value := fmt.Sprintf("%s|%d|%s", filename, size, time.Now().UTC().Format(time.RFC3339))
	if err := s.kv.Set(ctx, key, value, fileAuditTTL); err != nil {
		s.logger.Warn("failed to record upload audit entry",
			zap.String("workflow_id", workflowID),
			zap.Error(err))
	}
}
