// Package changelog provides a small document model for Liquibase master
// changelog files.
//
// A master changelog is an XML document whose root element lists the
// changelog files the engine should consider, in order:
//
//	<databaseChangeLog xmlns="http://www.liquibase.org/xml/ns/dbchangelog">
//	    <include file="V1__add_table.xml"/>
//	    <include file="V2__add_column.xml"/>
//	</databaseChangeLog>
//
// The model keeps the ordered include list plus the root element's
// attributes, which is enough to render a faithful master or a disposable
// variant that scopes a rollback to a single extra file. Rendering from the
// model avoids any text-substitution assumptions about how the closing tag
// is spelled in the source document.
package changelog

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/beekhuis/changeguard/pkg/consts"
	"github.com/pkg/errors"
)

const rootElement = "databaseChangeLog"

// Master models a master changelog file as an ordered list of included
// changelog filenames plus the root element attributes of the source
// document.
type Master struct {
	// Includes holds the file attribute of each <include> element, in
	// document order.
	Includes []string

	attrs []xml.Attr
}

// Parse reads a master changelog document from r.
//
// Only the root element's attributes and the file attribute of each
// <include> element are retained; any other content is ignored. Returns an
// error if the document is not well-formed XML or its root element is not
// <databaseChangeLog>.
func Parse(r io.Reader) (*Master, error) {
	m := &Master{}
	dec := xml.NewDecoder(r)

	seenRoot := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse master changelog")
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		if !seenRoot {
			if start.Name.Local != rootElement {
				return nil, errors.Errorf("unexpected root element: <%s>", start.Name.Local)
			}
			seenRoot = true
			m.attrs = start.Attr
			continue
		}

		if start.Name.Local == "include" {
			for _, attr := range start.Attr {
				if attr.Name.Local == "file" {
					m.Includes = append(m.Includes, attr.Value)
				}
			}
		}
	}

	if !seenRoot {
		return nil, errors.New("master changelog has no root element")
	}

	return m, nil
}

// ParseFile reads a master changelog document from the file at path.
func ParseFile(path string) (*Master, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open master changelog: %s", path)
	}
	defer func() { _ = f.Close() }()

	m, err := Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return m, nil
}

// WithInclude returns a copy of the master with file appended to the include
// list. If the file is already included the copy is unchanged.
func (m *Master) WithInclude(file string) *Master {
	out := &Master{
		Includes: slices.Clone(m.Includes),
		attrs:    m.attrs,
	}
	if !slices.Contains(out.Includes, file) {
		out.Includes = append(out.Includes, file)
	}
	return out
}

// WriteTo renders the master changelog document to w.
func (m *Master) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}

	if _, err := fmt.Fprintln(cw, xml.Header+renderStartTag(m.attrs)); err != nil {
		return cw.n, err
	}
	for _, file := range m.Includes {
		if _, err := fmt.Fprintf(cw, "    <include file=\"%s\"/>\n", escapeAttr(file)); err != nil {
			return cw.n, err
		}
	}
	if _, err := fmt.Fprintf(cw, "</%s>\n", rootElement); err != nil {
		return cw.n, err
	}

	return cw.n, nil
}

// WriteFile renders the master changelog to a new file at path. The
// destination must not exist; reconstruction must never clobber a real file.
func (m *Master) WriteFile(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, consts.ModeFile)
	if err != nil {
		return errors.Wrapf(err, "failed to create master changelog: %s", path)
	}

	if _, err := m.WriteTo(f); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to write master changelog: %s", path)
	}
	return f.Close()
}

func renderStartTag(attrs []xml.Attr) string {
	tag := "<" + rootElement
	for _, attr := range attrs {
		name := attr.Name.Local
		if attr.Name.Space != "" {
			// xml.Decoder resolves namespace prefixes to URLs; re-emit the
			// common ones in their canonical spelling.
			switch attr.Name.Space {
			case "xmlns":
				name = "xmlns:" + attr.Name.Local
			case "http://www.w3.org/2001/XMLSchema-instance":
				name = "xsi:" + attr.Name.Local
			default:
				name = attr.Name.Space + ":" + attr.Name.Local
			}
		}
		tag += " " + name + `="` + escapeAttr(attr.Value) + `"`
	}
	return tag + ">"
}

func escapeAttr(s string) string {
	var sb strings.Builder
	if err := xml.EscapeText(&sb, []byte(s)); err != nil {
		return s
	}
	return sb.String()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

