package wire

import (
	"testing"

	"github.com/cuemby/portod/pkg/portoerr"
)

func TestRequestRoundTripSetProperty(t *testing.T) {
	req := &Request{SetProperty: &SetPropertyRequest{
		Name:     "/a/b",
		Property: "memory_limit",
		Value:    "268435456",
	}}

	got, err := UnmarshalRequest(req.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalRequest: %v", err)
	}
	if got.SetProperty == nil {
		t.Fatal("expected SetProperty to be set")
	}
	if *got.SetProperty != *req.SetProperty {
		t.Errorf("SetProperty = %+v, want %+v", got.SetProperty, req.SetProperty)
	}
	if got.Create != nil || got.Destroy != nil {
		t.Error("only SetProperty should be populated")
	}
}

func TestRequestRoundTripWait(t *testing.T) {
	req := &Request{Wait: &WaitRequest{Names: []string{"/a", "/b"}, TimeoutMs: 5000}}

	got, err := UnmarshalRequest(req.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalRequest: %v", err)
	}
	if got.Wait == nil || len(got.Wait.Names) != 2 || got.Wait.TimeoutMs != 5000 {
		t.Errorf("Wait = %+v", got.Wait)
	}
}

func TestRequestRoundTripCreateVolume(t *testing.T) {
	req := &Request{CreateVolume: &CreateVolumeRequest{
		Path: "/porto_volumes/1",
		Properties: []Property{
			{Key: "backend", Value: "native"},
			{Key: "space_limit", Value: "1073741824"},
		},
	}}

	got, err := UnmarshalRequest(req.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalRequest: %v", err)
	}
	if got.CreateVolume == nil || got.CreateVolume.Path != req.CreateVolume.Path {
		t.Fatalf("CreateVolume = %+v", got.CreateVolume)
	}
	if len(got.CreateVolume.Properties) != 2 {
		t.Fatalf("Properties = %+v", got.CreateVolume.Properties)
	}
	if got.CreateVolume.Properties[1].Key != "space_limit" || got.CreateVolume.Properties[1].Value != "1073741824" {
		t.Errorf("Properties[1] = %+v", got.CreateVolume.Properties[1])
	}
}

func TestResponseRoundTripError(t *testing.T) {
	resp := &Response{Error: portoerr.ContainerDoesNotExist, ErrorMsg: "no such container"}

	got, err := UnmarshalResponse(resp.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalResponse: %v", err)
	}
	if got.Error != portoerr.ContainerDoesNotExist || got.ErrorMsg != "no such container" {
		t.Errorf("got = %+v", got)
	}
}

func TestResponseRoundTripVolumeDescription(t *testing.T) {
	resp := &Response{VolumeDesc: &VolumeDescription{
		Path:       "/porto_volumes/1",
		Backend:    "overlay",
		Ready:      true,
		Layers:     []string{"base", "app"},
		SpaceLimit: 1 << 30,
		Containers: []string{"/a", "/a/b"},
	}}

	got, err := UnmarshalResponse(resp.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalResponse: %v", err)
	}
	if got.VolumeDesc == nil {
		t.Fatal("expected VolumeDesc")
	}
	if got.VolumeDesc.Backend != "overlay" || !got.VolumeDesc.Ready {
		t.Errorf("VolumeDesc = %+v", got.VolumeDesc)
	}
	if len(got.VolumeDesc.Layers) != 2 || len(got.VolumeDesc.Containers) != 2 {
		t.Errorf("VolumeDesc = %+v", got.VolumeDesc)
	}
	if got.VolumeDesc.SpaceLimit != 1<<30 {
		t.Errorf("SpaceLimit = %d", got.VolumeDesc.SpaceLimit)
	}
}

func TestResponseRoundTripList(t *testing.T) {
	resp := &Response{List: &ListResult{Names: []string{"/", "/a", "/a/b"}}}

	got, err := UnmarshalResponse(resp.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalResponse: %v", err)
	}
	if got.List == nil || len(got.List.Names) != 3 {
		t.Errorf("List = %+v", got.List)
	}
}
