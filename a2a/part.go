package a2a

import "fmt"

// Part is one unit of message content, tagged by content type. The payload's
// concrete Go type is dictated by the content handler registered for the
// tag: string for text, map[string]any for structured data, FileRef for file
// references and []byte for binary blobs. Custom content types carry
// whatever their handler accepts.
type Part struct {
	ContentType string
	Payload     any
}

// TextPart wraps a plain string.
func TextPart(text string) Part {
	return Part{ContentType: ContentTypeText, Payload: text}
}

// DataPart wraps a structured payload.
func DataPart(data map[string]any) Part {
	return Part{ContentType: ContentTypeJSON, Payload: data}
}

// FilePart wraps a reference to externally stored content.
func FilePart(ref FileRef) Part {
	return Part{ContentType: ContentTypeFileRef, Payload: ref}
}

// BinaryPart wraps an opaque blob.
func BinaryPart(data []byte) Part {
	return Part{ContentType: ContentTypeBinary, Payload: data}
}

// RawPart wraps a payload under an arbitrary content type. The payload must
// satisfy the handler registered for that type or message construction will
// reject it.
func RawPart(contentType string, payload any) Part {
	return Part{ContentType: contentType, Payload: payload}
}

// Validate checks the part against the registry's handler for its content
// type. Unregistered types fail with ErrUnsupportedContentType.
func (p Part) Validate(reg *Registry) error {
	if p.ContentType == "" {
		return fmt.Errorf("%w: part missing content type", ErrInvalidPayload)
	}
	return reg.validate(p.ContentType, p.Payload)
}
