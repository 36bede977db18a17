// Package codec переводит плоские словари в XML-документы шлюза easypay и обратно.
//
// Формат шлюза: один корневой элемент, внутри которого по одному дочернему
// элементу на ключ. Decode пропускает дочерние элементы без текста, поэтому
// Decode(Encode(m)) совпадает с m только если в m нет пустых значений.
package codec

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"golang.org/x/net/html/charset"
)

// DefaultEncoding используется в заголовке XML, если кодировка не указана.
const DefaultEncoding = "utf-8"

// DecodeError возвращается, если входной документ не является корректным XML шлюза.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode xml: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode разбирает XML-документ и возвращает словарь «имя дочернего элемента -> текст».
func Decode(data []byte) (map[string]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charset.NewReaderLabel

	result := make(map[string]string)

	var (
		depth int
		roots int
		name  string
		text  strings.Builder
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &DecodeError{Err: err}
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch depth {
			case 1:
				roots++
				if roots > 1 {
					return nil, &DecodeError{Err: errors.New("more than one root element")}
				}
			case 2:
				name = t.Name.Local
				text.Reset()
			}
		case xml.EndElement:
			if depth == 2 && text.Len() > 0 {
				result[name] = text.String()
			}
			depth--
		case xml.CharData:
			switch {
			case depth == 2:
				text.Write(t)
			case depth == 0 && len(bytes.TrimSpace(t)) > 0:
				return nil, &DecodeError{Err: errors.New("text outside of root element")}
			}
		}
	}

	if roots == 0 {
		return nil, &DecodeError{Err: errors.New("missing root element")}
	}

	return result, nil
}

// Encode сериализует словарь в XML с корнем root и заголовком в кодировке utf-8.
func Encode(values map[string]any, root string) ([]byte, error) {
	return EncodeWithEncoding(values, root, DefaultEncoding)
}

// EncodeWithEncoding сериализует словарь в XML с корнем root.
// Ключи записываются в отсортированном порядке, значения приводятся к строке.
func EncodeWithEncoding(values map[string]any, root, encoding string) ([]byte, error) {
	if root == "" {
		return nil, errors.New("empty root element name")
	}
	if encoding == "" {
		encoding = DefaultEncoding
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var body bytes.Buffer
	enc := xml.NewEncoder(&body)

	start := xml.StartElement{Name: xml.Name{Local: root}}
	if err := enc.EncodeToken(start); err != nil {
		return nil, fmt.Errorf("encode root: %w", err)
	}
	for _, k := range keys {
		el := xml.StartElement{Name: xml.Name{Local: k}}
		if err := enc.EncodeElement(stringify(values[k]), el); err != nil {
			return nil, fmt.Errorf("encode %s: %w", k, err)
		}
	}
	if err := enc.EncodeToken(start.End()); err != nil {
		return nil, fmt.Errorf("encode root: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return nil, fmt.Errorf("flush xml: %w", err)
	}

	payload, err := transcode(body.Bytes(), encoding)
	if err != nil {
		return nil, err
	}

	header := fmt.Sprintf(`<?xml version="1.0" encoding="%s"?>`, encoding)
	return append([]byte(header), payload...), nil
}

func transcode(data []byte, label string) ([]byte, error) {
	e, name := charset.Lookup(label)
	if e == nil {
		return nil, fmt.Errorf("unsupported encoding %q", label)
	}
	if name == "utf-8" {
		return data, nil
	}

	out, err := e.NewEncoder().Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("transcode to %s: %w", name, err)
	}
	return out, nil
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
