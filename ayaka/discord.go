package ayaka

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Discord manages the bot's gateway session. The bot is deliberately a
// thin consumer of the gateway: it connects, sets its presence, and logs
// connection events. Command handling lives outside this repository.
type Discord struct {
	session           *discordgo.Session
	config            *DiscordConfig
	logger            *slog.Logger
	connected         atomic.Bool
	metricConnects    atomic.Int64
	metricDisconnects atomic.Int64

	// cleanup funcs returned by discordgo AddHandler
	removeHandlerFuncs []func()
}

// newDiscord initializes a new Discord instance with the provided
// configuration. The session itself isn't created until newSession.
func newDiscord(config *DiscordConfig) (*Discord, error) {
	if config == nil {
		return nil, fmt.Errorf("nil discord config")
	}
	return &Discord{
		config:             config,
		removeHandlerFuncs: []func(){},
	}, nil
}

// newSession creates the underlying discordgo session and registers the
// connection lifecycle handlers.
func (d *Discord) newSession() error {
	session, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return fmt.Errorf("error creating discord session: %w", err)
	}
	session.SyncEvents = true
	session.StateEnabled = false
	session.Identify.Intents = d.config.GatewayIntents

	d.session = session
	d.removeHandlerFuncs = append(
		d.removeHandlerFuncs,
		session.AddHandler(d.handlerReady()),
		session.AddHandler(d.handlerConnect()),
		session.AddHandler(d.handlerDisconnect()),
	)
	return nil
}

// open starts the gateway connection.
func (d *Discord) open() error {
	if d.session == nil {
		if err := d.newSession(); err != nil {
			return err
		}
	}
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("error opening discord session: %w", err)
	}
	return nil
}

// close removes handlers and closes the gateway connection.
func (d *Discord) close() error {
	for _, removeHandler := range d.removeHandlerFuncs {
		removeHandler()
	}
	d.removeHandlerFuncs = []func(){}
	if d.session == nil {
		return nil
	}
	return d.session.Close()
}

func (d *Discord) handlerReady() func(
	s *discordgo.Session,
	r *discordgo.Ready,
) {
	return func(_ *discordgo.Session, r *discordgo.Ready) {
		d.logger.Info(
			"discord ready",
			"username", r.User.Username,
			"session_id", r.SessionID,
			"guilds", len(r.Guilds),
		)
		if d.config.CustomStatus != "" {
			if err := d.updateCustomStatus(d.config.CustomStatus); err != nil {
				d.logger.Warn("error setting custom status", tint.Err(err))
			}
		}
	}
}

func (d *Discord) handlerConnect() func(
	s *discordgo.Session,
	c *discordgo.Connect,
) {
	return func(_ *discordgo.Session, _ *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)
		d.logger.Info("discord gateway connected", "at", time.Now().UTC())
	}
}

func (d *Discord) handlerDisconnect() func(
	s *discordgo.Session,
	dc *discordgo.Disconnect,
) {
	return func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		d.metricDisconnects.Add(1)
		d.connected.Store(false)
		d.logger.Warn("discord gateway disconnected", "at", time.Now().UTC())
	}
}

func (d *Discord) updateCustomStatus(status string) error {
	return d.session.UpdateCustomStatus(status)
}
