package upstream

import (
	"encoding/xml"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/pharmalink/provider-sync/internal/tree"
)

// DecodeXML parses an XML document into a tree. Elements are keyed by local
// name; attributes merge into the element's object; repeated siblings
// become arrays; text-only elements become strings. The declared charset
// is honoured.
func DecodeXML(r io.Reader) (tree.Node, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "upstream: unsupported charset %q", charset)
		}
		return enc.NewDecoder().Reader(input), nil
	}
	return decodeXML(dec)
}

// DecodeXMLString parses XML that has already been decoded to text,
// ignoring any charset declaration it carries.
func DecodeXMLString(s string) (tree.Node, error) {
	dec := xml.NewDecoder(strings.NewReader(s))
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
		return input, nil
	}
	return decodeXML(dec)
}

// Windows1252 re-reads text whose bytes were decoded as Latin-1 as
// Windows-1252, which only differs in 0x80-0x9F. Text holding runes above
// U+00FF was decoded properly already and is returned unchanged.
func Windows1252(s string) string {
	raw := make([]byte, 0, len(s))
	high := false
	for _, r := range s {
		if r > 0xFF {
			return s
		}
		if r >= 0x80 {
			high = true
		}
		raw = append(raw, byte(r))
	}
	if !high {
		return s
	}
	out, err := charmap.Windows1252.NewDecoder().Bytes(raw)
	if err != nil {
		return s
	}
	return string(out)
}

type xmlFrame struct {
	name     string
	obj      map[string]any
	text     strings.Builder
	children bool
}

func decodeXML(dec *xml.Decoder) (tree.Node, error) {
	root := &xmlFrame{obj: map[string]any{}}
	stack := []*xmlFrame{root}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "upstream: read xml token")
		}

		switch t := tok.(type) {
		case xml.StartElement:
			f := &xmlFrame{name: t.Name.Local, obj: map[string]any{}}
			for _, a := range t.Attr {
				if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
					continue
				}
				f.obj[a.Name.Local] = strings.TrimSpace(a.Value)
			}
			stack[len(stack)-1].children = true
			stack = append(stack, f)
		case xml.CharData:
			stack[len(stack)-1].text.Write(t)
		case xml.EndElement:
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			addChild(stack[len(stack)-1].obj, f.name, f.value())
		}
	}

	if len(stack) != 1 {
		return nil, eris.New("upstream: unterminated xml document")
	}
	return root.obj, nil
}

func (f *xmlFrame) value() any {
	text := strings.TrimSpace(f.text.String())
	if !f.children && len(f.obj) == 0 {
		return text
	}
	if text != "" {
		f.obj["_"] = text
	}
	return f.obj
}

func addChild(parent map[string]any, name string, v any) {
	existing, ok := parent[name]
	if !ok {
		parent[name] = v
		return
	}
	if list, ok := existing.([]any); ok {
		parent[name] = append(list, v)
		return
	}
	parent[name] = []any{existing, v}
}
