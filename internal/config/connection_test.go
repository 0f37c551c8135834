package config

import (
	"encoding/json"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestConnectionSpecKeepsDocumentOrder(t *testing.T) {
	var specs []ConnectionSpec
	doc := `
- hostname: 10.0.0.5
  type: vicon
  name: Stage
  add_labeled_markers: "0"
  port:
`
	if err := yaml.Unmarshal([]byte(doc), &specs); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	spec := specs[0]
	if spec.Type != "vicon" || spec.Name != "Stage" {
		t.Fatalf("spec = %+v", spec)
	}
	want := []Param{
		{Key: "hostname", Value: "10.0.0.5"},
		{Key: "name", Value: "Stage"},
		{Key: "add_labeled_markers", Value: "0"},
		{Key: "port", Value: ""},
	}
	if len(spec.Params) != len(want) {
		t.Fatalf("params = %+v", spec.Params)
	}
	for i := range want {
		if spec.Params[i] != want[i] {
			t.Errorf("params[%d] = %+v, want %+v", i, spec.Params[i], want[i])
		}
	}

	if _, ok := spec.Get("type"); ok {
		t.Error("type must not be forwarded as a param")
	}
}

func TestConnectionSpecRejectsNonMapping(t *testing.T) {
	var specs []ConnectionSpec
	if err := yaml.Unmarshal([]byte("- vicon\n"), &specs); err == nil {
		t.Fatal("expected error for scalar connection")
	}
}

func TestConnectionSpecMarshal(t *testing.T) {
	spec := ConnectionSpec{
		Type:   "optitrack",
		Name:   "Rig",
		Params: []Param{{Key: "name", Value: "Rig"}, {Key: "hostname", Value: "h"}},
	}

	data, err := json.Marshal(spec)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), `{"type":"optitrack","name":"Rig","hostname":"h"}`; got != want {
		t.Errorf("json = %s, want %s", got, want)
	}

	out, err := yaml.Marshal(spec)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(out), "type: optitrack\nname: Rig\nhostname: h\n"; got != want {
		t.Errorf("yaml = %q, want %q", got, want)
	}
}
