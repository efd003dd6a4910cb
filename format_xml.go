package syncstate

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"reflect"
	"time"
)

type xmlFormat struct{}

// XMLFormat stores the document as
//
//	<syncstate version="1" account-name=".." account-type=".." authority="..">
//	  <entry key="sync_token"><value>abc</value></entry>
//	</syncstate>
//
// Values follow encoding/xml rules: scalars, structs, slices and
// encoding.TextMarshaler types round-trip; maps are not supported. Entries
// decoded without a registered key come back as strings (or []any of
// strings for repeated values).
func XMLFormat() Format {
	return xmlFormat{}
}

type xmlDocumentOut struct {
	XMLName     xml.Name      `xml:"syncstate"`
	Version     int           `xml:"version,attr"`
	AccountName string        `xml:"account-name,attr"`
	AccountType string        `xml:"account-type,attr"`
	Authority   string        `xml:"authority,attr"`
	UpdatedAt   time.Time     `xml:"updated-at,attr"`
	Entries     []xmlEntryOut `xml:"entry"`
}

type xmlEntryOut struct {
	Key   string `xml:"key,attr"`
	Value any    `xml:"value"`
}

type xmlDocumentIn struct {
	XMLName     xml.Name     `xml:"syncstate"`
	Version     int          `xml:"version,attr"`
	AccountName string       `xml:"account-name,attr"`
	AccountType string       `xml:"account-type,attr"`
	Authority   string       `xml:"authority,attr"`
	UpdatedAt   time.Time    `xml:"updated-at,attr"`
	Entries     []xmlEntryIn `xml:"entry"`
}

type xmlEntryIn struct {
	Key   string `xml:"key,attr"`
	Inner []byte `xml:",innerxml"`
}

func (xmlFormat) Name() string {
	return "xml"
}

func (xmlFormat) Marshal(doc Document) ([]byte, error) {
	out := xmlDocumentOut{
		Version:     doc.Version,
		AccountName: doc.Account.Name,
		AccountType: doc.Account.Type,
		Authority:   doc.Authority,
		UpdatedAt:   doc.UpdatedAt,
		Entries:     make([]xmlEntryOut, 0, len(doc.Entries)),
	}
	for _, key := range sortedKeys(doc.Entries) {
		out.Entries = append(out.Entries, xmlEntryOut{Key: key, Value: doc.Entries[key]})
	}
	data, err := xml.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("xml: %w", err)
	}
	return append([]byte(xml.Header), data...), nil
}

func (xmlFormat) Unmarshal(data []byte) (RawDocument, error) {
	var in xmlDocumentIn
	if err := xml.Unmarshal(data, &in); err != nil {
		return RawDocument{}, fmt.Errorf("xml: %w", err)
	}
	doc := RawDocument{
		Version:   in.Version,
		Account:   Account{Name: in.AccountName, Type: in.AccountType},
		Authority: in.Authority,
		UpdatedAt: in.UpdatedAt,
		Entries:   make(map[string]RawValue, len(in.Entries)),
	}
	for _, entry := range in.Entries {
		if _, exists := doc.Entries[entry.Key]; exists {
			return RawDocument{}, fmt.Errorf("xml: duplicate entry %q", entry.Key)
		}
		doc.Entries[entry.Key] = xmlRaw(entry.Inner)
	}
	return doc, nil
}

type xmlRaw []byte

func (r xmlRaw) wrapped() []byte {
	var buf bytes.Buffer
	buf.WriteString("<entry>")
	buf.Write(r)
	buf.WriteString("</entry>")
	return buf.Bytes()
}

func (r xmlRaw) Decode(target any) error {
	if generic, ok := target.(*any); ok {
		var values struct {
			Values []string `xml:"value"`
		}
		if err := xml.Unmarshal(r.wrapped(), &values); err != nil {
			return err
		}
		switch len(values.Values) {
		case 0:
			*generic = nil
		case 1:
			*generic = values.Values[0]
		default:
			items := make([]any, len(values.Values))
			for i, value := range values.Values {
				items[i] = value
			}
			*generic = items
		}
		return nil
	}

	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("xml: decode target must be a non-nil pointer, got %T", target)
	}
	holderType := reflect.StructOf([]reflect.StructField{{
		Name: "Value",
		Type: rv.Elem().Type(),
		Tag:  `xml:"value"`,
	}})
	holder := reflect.New(holderType)
	if err := xml.Unmarshal(r.wrapped(), holder.Interface()); err != nil {
		return err
	}
	rv.Elem().Set(holder.Elem().Field(0))
	return nil
}
