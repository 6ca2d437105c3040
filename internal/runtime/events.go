package runtime

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/crossai-ng/pronto-voice/internal/bus"
	"github.com/crossai-ng/pronto-voice/internal/eventstore"
	"github.com/crossai-ng/pronto-voice/internal/protocol"
)

// eventPublisher fans orchestrator turn events out to the bus and appends
// them to the event store. The store's privacy scope is applied before either
// copy leaves the orchestrator.
type eventPublisher struct {
	bus   *bus.Client
	store *eventstore.Store
	log   *slog.Logger
}

func newEventPublisher(busClient *bus.Client, store *eventstore.Store, log *slog.Logger) *eventPublisher {
	return &eventPublisher{
		bus:   busClient,
		store: store,
		log:   log.With(slog.String("component", "events")),
	}
}

func (p *eventPublisher) PublishTurnEvent(ctx context.Context, evt protocol.TurnEvent) {
	if p.store != nil {
		evt = p.store.Redact(evt)
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		p.log.Warn("failed to marshal turn event", slog.String("error", err.Error()))
		return
	}

	if p.bus != nil {
		if err := p.bus.Conn().Publish(subjectFor(evt), payload); err != nil {
			p.log.Warn("failed to publish turn event", slog.String("error", err.Error()))
		}
	}

	if p.store != nil {
		record := eventstore.Event{
			SessionID: evt.SessionID,
			TurnID:    evt.TurnID,
			Type:      evt.Stage + "." + evt.Outcome,
			Payload:   payload,
			Privacy:   p.store.PrivacyScope(),
			CreatedAt: evt.Timestamp,
		}
		if err := p.store.AppendEvent(ctx, record); err != nil {
			p.log.Warn("failed to append turn event", slog.String("error", err.Error()))
		}
	}
}

func subjectFor(evt protocol.TurnEvent) string {
	switch evt.Stage {
	case "transcribe":
		return protocol.SubjectTranscriptFinal
	case "reply":
		return protocol.SubjectReplyFinal
	case "synthesize":
		return protocol.SubjectAudioReady
	case "playback":
		return protocol.SubjectPlaybackDone
	case "turn":
		switch evt.Outcome {
		case "started":
			return protocol.SubjectTurnStarted
		case "completed", "completed_local", "no_speech":
			return protocol.SubjectTurnCompleted
		default:
			return protocol.SubjectTurnFailed
		}
	default:
		return protocol.SubjectTurnFailed
	}
}
