package dispatch

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"runtime"

	"github.com/hnolan/ccrouter/internal/mapping"
	"github.com/hnolan/ccrouter/internal/signature"
	"github.com/hnolan/ccrouter/internal/transcode"
)

const userAgentVersion = "antigravity/1.15.8"

// userAgent is the client-identifying User-Agent header sent with every
// Cloud Code request. Built once per process: it never changes at runtime.
var userAgent = fmt.Sprintf("%s %s/%s", userAgentVersion, runtime.GOOS, runtime.GOARCH)

// BuildHeaders returns the header set a Cloud Code request needs.
// Claude thinking models get the interleaved-thinking beta header; a
// streaming request additionally asks for an SSE response.
func BuildHeaders(accessToken, model string, streaming bool) map[string]string {
	headers := map[string]string{
		"Authorization":      "Bearer " + accessToken,
		"Content-Type":       "application/json",
		"User-Agent":         userAgent,
		"X-Goog-Api-Client":  "google-cloud-sdk vscode_cloudshelleditor/0.1",
		"Client-Metadata":    `{"ideType":"IDE_UNSPECIFIED","platform":"PLATFORM_UNSPECIFIED","pluginType":"GEMINI"}`,
	}

	if mapping.GetModelFamily(model) == signature.FamilyClaude && mapping.IsThinkingModel(model) {
		headers["anthropic-beta"] = "interleaved-thinking-2025-05-14"
	}
	if streaming {
		headers["Accept"] = "text/event-stream"
	}

	return headers
}

// BuildEnvelope transcodes an Anthropic request to Google's shape and wraps
// it in the CloudCodeRequest envelope Cloud Code's endpoints expect.
func BuildEnvelope(req *transcode.MessagesRequest, projectID string, sigCache *signature.Cache) transcode.CloudCodeRequest {
	googleReq := transcode.ToGoogle(req, sigCache)
	googleReq.SessionID = DeriveSessionID(req)

	return transcode.CloudCodeRequest{
		Project:     projectID,
		Model:       req.Model,
		Request:     googleReq,
		UserAgent:   "antigravity",
		RequestType: "agent",
		RequestID:   "agent-" + generateUUID(),
	}
}

// DeriveSessionID hashes the first user message's text so that a given
// conversation (identified by its opening turn) consistently lands on the
// same Cloud Code session, and thus the same sticky-selected account. The
// request pipeline also uses this directly to pick a sticky-selection key
// before an account (and therefore a project id) is known.
func DeriveSessionID(req *transcode.MessagesRequest) string {
	var text string
	for _, m := range req.Messages {
		if m.Role != transcode.RoleUser {
			continue
		}
		if m.Content.Blocks == nil {
			text = m.Content.Text
		} else {
			for _, b := range m.Content.Blocks {
				if b.Type == transcode.ContentText {
					text += b.Text
				}
			}
		}
		break
	}

	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:32]
}

func generateUUID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
