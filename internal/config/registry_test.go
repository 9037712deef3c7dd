package config

import (
	"errors"
	"testing"

	"github.com/voxpipe/voxpipe/pkg/provider/stt"
	sttmock "github.com/voxpipe/voxpipe/pkg/provider/stt/mock"
	"github.com/voxpipe/voxpipe/pkg/provider/tts"
	ttsmock "github.com/voxpipe/voxpipe/pkg/provider/tts/mock"
)

func TestRegistry_CreateUsesRegisteredFactory(t *testing.T) {
	reg := NewRegistry()

	var gotEntry ProviderEntry
	want := &sttmock.Transcriber{}
	reg.RegisterSTT("stub", func(e ProviderEntry) (stt.Transcriber, error) {
		gotEntry = e
		return want, nil
	})

	entry := ProviderEntry{Name: "stub", APIKey: "key", Model: "whisper-1"}
	got, err := reg.CreateSTT(entry)
	if err != nil {
		t.Fatalf("CreateSTT: %v", err)
	}
	if got != want {
		t.Error("CreateSTT did not return the factory's transcriber")
	}
	if gotEntry.APIKey != "key" || gotEntry.Model != "whisper-1" {
		t.Errorf("factory received entry %+v", gotEntry)
	}
}

func TestRegistry_UnregisteredName(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.CreateTTS(ProviderEntry{Name: "nope"})
	if !errors.Is(err, ErrProviderNotRegistered) {
		t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_LastRegistrationWins(t *testing.T) {
	reg := NewRegistry()

	first := &ttsmock.Synthesizer{}
	second := &ttsmock.Synthesizer{}
	reg.RegisterTTS("stub", func(ProviderEntry) (tts.Synthesizer, error) { return first, nil })
	reg.RegisterTTS("stub", func(ProviderEntry) (tts.Synthesizer, error) { return second, nil })

	got, err := reg.CreateTTS(ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("CreateTTS: %v", err)
	}
	if got != second {
		t.Error("later registration did not overwrite the earlier one")
	}
}
