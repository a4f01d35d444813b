package jsonapiupdate_test

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	jsonapiupdate "github.com/greena13/gorm-jsonapi-update"
)

func TestDecodeJSON_NumbersStayLossless(t *testing.T) {
	attrs, err := jsonapiupdate.DecodeJSON([]byte(`{"tags_attributes":[{"id":2},{"id":9007199254740993}]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tags, _ := attrs["tags_attributes"].([]any)
	if len(tags) != 2 {
		t.Fatalf("expected 2 entries, got %#v", attrs)
	}
	first, _ := tags[0].(map[string]any)
	if got, ok := first["id"].(json.Number); !ok || got.String() != "2" {
		t.Fatalf("expected json.Number(\"2\"), got %#v", first["id"])
	}
	second, _ := tags[1].(map[string]any)
	if got, _ := second["id"].(json.Number); got.String() != "9007199254740993" {
		t.Fatalf("large identifier lost precision: %#v", second["id"])
	}
}

func TestDecodeJSON_NumericIDsMatchStringIdentifiers(t *testing.T) {
	e := &stubEntity{ids: map[string][]string{"tag_ids": {"2", "3"}}}
	attrs, err := jsonapiupdate.DecodeJSON([]byte(`{"tags_attributes":[{"id":2}]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := jsonapiupdate.Sanitize(attrs, e)
	tags, _ := got["tags_attributes"].([]any)
	if len(tags) != 2 {
		t.Fatalf("expected the entry plus one marker, got %#v", tags)
	}
	if !reflect.DeepEqual(tags[1], map[string]any{"id": "3", "_destroy": 1}) {
		t.Fatalf("expected marker only for 3, got %#v", tags[1])
	}
}

func TestDecodeJSON_RootMustBeMapping(t *testing.T) {
	if _, err := jsonapiupdate.DecodeJSON([]byte(`[1,2]`)); !errors.Is(err, jsonapiupdate.ErrNotMapping) {
		t.Fatalf("expected ErrNotMapping, got %v", err)
	}
	if _, err := jsonapiupdate.DecodeJSON([]byte(`{`)); err == nil {
		t.Fatalf("expected a decode error for malformed input")
	}
}

func TestDecodeJSONReader(t *testing.T) {
	attrs, err := jsonapiupdate.DecodeJSONReader(strings.NewReader(`{"title":"x"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attrs["title"] != "x" {
		t.Fatalf("unexpected attrs: %#v", attrs)
	}
}

func TestDecodeYAML_NormalizesMappingKeys(t *testing.T) {
	attrs, err := jsonapiupdate.DecodeYAML([]byte(`
title: hello
tags_attributes:
  0:
    id: 2
  1:
    name: New Tag
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assoc, ok := attrs["tags_attributes"].(map[string]any)
	if !ok {
		t.Fatalf("expected a string-keyed mapping, got %#v", attrs["tags_attributes"])
	}
	entry, _ := assoc["0"].(map[string]any)
	if entry == nil || entry["id"] != 2 {
		t.Fatalf("numeric keys must normalize to strings: %#v", assoc)
	}
}

func TestDecodeYAML_RootMustBeMapping(t *testing.T) {
	if _, err := jsonapiupdate.DecodeYAML([]byte(`- a`)); !errors.Is(err, jsonapiupdate.ErrNotMapping) {
		t.Fatalf("expected ErrNotMapping, got %v", err)
	}
}
