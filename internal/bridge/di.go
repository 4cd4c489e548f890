package bridge

import (
	"github.com/foxseedlab/mixminus/internal/config"
	"github.com/foxseedlab/mixminus/internal/discord"
	"github.com/foxseedlab/mixminus/internal/repository"
	"github.com/foxseedlab/mixminus/internal/transcriber"
	"github.com/foxseedlab/mixminus/internal/webhook"
	"github.com/samber/do/v2"
)

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Manager, error) {
		cfg := do.MustInvoke[*config.Config](i)
		repo := do.MustInvoke[repository.Repository](i)
		dc := do.MustInvoke[discord.Client](i)
		stt := do.MustInvoke[transcriber.Transcriber](i)
		wh := do.MustInvoke[webhook.Sender](i)
		newParticipant := do.MustInvoke[ChannelParticipantFactory](i)
		return NewManager(cfg, repo, dc, stt, wh, newParticipant), nil
	})
}
