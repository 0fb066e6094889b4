package envelope

import "testing"

func TestEnvelopeRoundTrip(t *testing.T) {
	from := Address{Node: "driverA", ProcessID: "driver:llmfed"}
	env := New(KindClientRunJob, from, RunJobBody{Job: JobSpec{Model: "llama", Prompt: "hi"}})

	if env.Kind != KindClientRunJob {
		t.Fatalf("unexpected kind: %s", env.Kind)
	}

	var decoded RunJobBody
	if err := env.Decode(&decoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Job.Model != "llama" || decoded.Job.Prompt != "hi" {
		t.Fatalf("unexpected decoded body: %+v", decoded)
	}
}

func TestAddressString(t *testing.T) {
	a := Address{Node: "driverA", ProcessID: "driver:llmfed"}
	if a.String() != "driver:llmfed@driverA" {
		t.Fatalf("unexpected address string: %s", a.String())
	}
}

func TestClientRefAddress(t *testing.T) {
	c := ClientRef{Node: "client1", ProcessID: "client:app"}
	addr := c.Address()
	if addr.Node != "client1" || addr.ProcessID != "client:app" {
		t.Fatalf("unexpected address from ClientRef: %+v", addr)
	}
}
