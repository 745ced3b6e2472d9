package gmail

import (
	"google.golang.org/api/gmail/v1"

	"github.com/Veraticus/subscription-copilot/internal/model"
)

// convertMessage maps an API message to a raw email. Nested multiparts are
// flattened depth-first so the extractor sees leaf parts in document order.
// Body data stays base64url encoded.
func convertMessage(msg *gmail.Message) *model.RawEmail {
	raw := &model.RawEmail{ID: msg.Id}
	if msg.Payload == nil {
		return raw
	}

	raw.MimeType = msg.Payload.MimeType
	for _, h := range msg.Payload.Headers {
		raw.Headers = append(raw.Headers, model.Header{Name: h.Name, Value: h.Value})
	}
	if msg.Payload.Body != nil && len(msg.Payload.Parts) == 0 {
		raw.Body = msg.Payload.Body.Data
	}
	raw.Parts = flattenParts(msg.Payload.Parts, raw.Parts)
	return raw
}

func flattenParts(parts []*gmail.MessagePart, out []model.MessagePart) []model.MessagePart {
	for _, part := range parts {
		if part == nil {
			continue
		}
		if len(part.Parts) > 0 {
			out = flattenParts(part.Parts, out)
			continue
		}
		var data string
		if part.Body != nil {
			data = part.Body.Data
		}
		out = append(out, model.MessagePart{MimeType: part.MimeType, Body: data})
	}
	return out
}
