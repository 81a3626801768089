package modules

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/memohai/unibox/internal/attachment"
	"github.com/memohai/unibox/internal/config"
	"github.com/memohai/unibox/internal/conversation"
	"github.com/memohai/unibox/internal/handlers"
	"github.com/memohai/unibox/internal/media"
	"github.com/memohai/unibox/internal/message/event"
	"github.com/memohai/unibox/internal/presence"
	"github.com/memohai/unibox/internal/server"
)

var HandlersModule = fx.Module(
	"handlers",
	fx.Provide(
		// Handlers that need config pieces
		annotateHandler(provideEventsHandler),
		annotateHandler(provideAttachmentHandler),

		// Simple handlers from handlers package
		annotateHandler(handlers.NewPingHandler),
		annotateHandler(handlers.NewInboundHandler),
		annotateHandler(handlers.NewConversationHandler),
		annotateHandler(handlers.NewContactsHandler),
		annotateHandler(handlers.NewPresenceHandler),
		annotateHandler(handlers.NewLocalChannelHandler),
		annotateHandler(handlers.NewScheduleHandler),
	),
)

// annotateHandler registers a handler constructor as a server.Handler in
// the server_handlers group.
func annotateHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideEventsHandler(log *slog.Logger, hub *event.Hub, conversations *conversation.Service, tracker *presence.Tracker, cfg config.Config) *handlers.EventsHandler {
	return handlers.NewEventsHandler(log, hub, conversations, tracker, cfg.Realtime)
}

func provideAttachmentHandler(log *slog.Logger, service *attachment.Service) *handlers.AttachmentHandler {
	return handlers.NewAttachmentHandler(log, service, media.MaxAssetBytes)
}
