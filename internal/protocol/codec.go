package protocol

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	fieldEscaper   = strings.NewReplacer("%", "%25", FieldDelimiter, "%3A")
	fieldUnescaper = strings.NewReplacer("%3A", FieldDelimiter, "%3a", FieldDelimiter, "%25", "%")
	reservedTags   = map[string]bool{
		TagDirect: true, TagRequest: true, TagAccept: true, TagChat: true,
		TagChatX: true, TagDirectX: true, TagRequestX: true, TagAcceptX: true,
	}
)

// Encode renders a payload in its wire form.
//
//	DIRECT:<target>:<content>
//	REQUEST:<id>:<name>            ACCEPT:<id>:<name>
//	CHATX:<msgid>:<text>
//	DIRECTX:<msgid>:<sender>:<sealed>:<target>:<content>
//	REQUESTX:<msgid>:<target>:<pubkey>:<id>:<name>
//	ACCEPTX:<msgid>:<target>:<pubkey>:<id>:<name>
//
// Leading fields are escaped; the last field is written as is.
func Encode(p Payload) []byte {
	switch v := p.(type) {
	case Chat:
		switch {
		case v.ID != "":
			return join(TagChatX, v.Text, v.ID)
		case hasReservedPrefix(v.Text):
			return join(TagChat, v.Text)
		}
		return []byte(v.Text)
	case *Chat:
		return Encode(*v)
	case Direct:
		if v.ID != "" || v.Sender != "" || v.Sealed {
			flag := "0"
			if v.Sealed {
				flag = "1"
			}
			return join(TagDirectX, v.Content, v.ID, v.Sender, flag, v.Target)
		}
		return join(TagDirect, v.Content, v.Target)
	case *Direct:
		return Encode(*v)
	case Request:
		if v.ID != "" || v.Target != "" || v.PubKey != "" {
			return join(TagRequestX, v.Name, v.ID, v.Target, v.PubKey, v.PersistentID)
		}
		return join(TagRequest, v.Name, v.PersistentID)
	case *Request:
		return Encode(*v)
	case Accept:
		if v.ID != "" || v.Target != "" || v.PubKey != "" {
			return join(TagAcceptX, v.Name, v.ID, v.Target, v.PubKey, v.PersistentID)
		}
		return join(TagAccept, v.Name, v.PersistentID)
	case *Accept:
		return Encode(*v)
	default:
		return nil
	}
}

// Decode classifies raw bytes. Untagged text is chat; a tagged payload with
// the wrong shape returns ErrMalformed.
func Decode(data []byte) (Payload, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: invalid utf-8", ErrMalformed)
	}
	text := string(data)
	tag, rest, ok := strings.Cut(text, FieldDelimiter)
	if !ok {
		return Chat{Text: text}, nil
	}
	switch tag {
	case TagChat:
		return Chat{Text: rest}, nil
	case TagChatX:
		f, err := split(tag, rest, 2)
		if err != nil {
			return nil, err
		}
		return Chat{ID: f[0], Text: f[1]}, nil
	case TagDirect:
		f, err := split(tag, rest, 2)
		if err != nil {
			return nil, err
		}
		return checkDirect(Direct{Target: f[0], Content: f[1]})
	case TagDirectX:
		f, err := split(tag, rest, 5)
		if err != nil {
			return nil, err
		}
		d := Direct{ID: f[0], Sender: f[1], Target: f[3], Content: f[4]}
		switch f[2] {
		case "1":
			d.Sealed = true
		case "0", "":
		default:
			return nil, fmt.Errorf("%w: bad sealed flag %q", ErrMalformed, f[2])
		}
		return checkDirect(d)
	case TagRequest, TagAccept:
		f, err := split(tag, rest, 2)
		if err != nil {
			return nil, err
		}
		return relationship(tag, "", "", "", f[0], f[1])
	case TagRequestX, TagAcceptX:
		f, err := split(tag, rest, 5)
		if err != nil {
			return nil, err
		}
		return relationship(tag, f[0], f[1], f[2], f[3], f[4])
	default:
		return Chat{Text: text}, nil
	}
}

func checkDirect(d Direct) (Payload, error) {
	if d.Target == "" {
		return nil, fmt.Errorf("%w: %s without target", ErrMalformed, TagDirect)
	}
	return d, nil
}

func relationship(tag, msgID, target, key, id, name string) (Payload, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: %s without persistent id", ErrMalformed, tag)
	}
	if tag == TagRequest || tag == TagRequestX {
		return Request{ID: msgID, PersistentID: id, Name: name, Target: target, PubKey: key}, nil
	}
	return Accept{ID: msgID, PersistentID: id, Name: name, Target: target, PubKey: key}, nil
}

// split cuts rest into n fields. The first n-1 are unescaped; the last keeps
// everything after them, delimiters included.
func split(tag, rest string, n int) ([]string, error) {
	parts := strings.SplitN(rest, FieldDelimiter, n)
	if len(parts) < n {
		return nil, fmt.Errorf("%w: %s expects %d fields, got %d", ErrMalformed, tag, n, len(parts))
	}
	for i := 0; i < n-1; i++ {
		parts[i] = fieldUnescaper.Replace(parts[i])
	}
	return parts, nil
}

// join writes tag, the escaped leading fields and the literal last field.
func join(tag, last string, leading ...string) []byte {
	var sb strings.Builder
	sb.WriteString(tag)
	for _, f := range leading {
		sb.WriteString(FieldDelimiter)
		sb.WriteString(fieldEscaper.Replace(f))
	}
	sb.WriteString(FieldDelimiter)
	sb.WriteString(last)
	return []byte(sb.String())
}

func hasReservedPrefix(text string) bool {
	tag, _, ok := strings.Cut(text, FieldDelimiter)
	return ok && reservedTags[tag]
}
