// Package commands keeps the slash commands the bot answers to.
package commands

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/fadedpez/cantina/internal/discord"
	"github.com/fadedpez/cantina/internal/types"
)

// Handler answers one slash command invocation
type Handler func(ctx context.Context, i *discordgo.InteractionCreate) (*discord.Response, error)

// Command is a slash command definition together with its handler
type Command struct {
	Definition *discordgo.ApplicationCommand
	Handle     Handler
}

// Name returns the slash command name
func (c *Command) Name() string {
	return c.Definition.Name
}

// Registry manages the registered commands
type Registry struct {
	commands map[string]*Command
	mu       sync.RWMutex
}

// NewRegistry creates a new command registry
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]*Command),
	}
}

// Register adds commands to the registry. Nothing is added if any of them is
// malformed or already registered.
func (r *Registry) Register(cmds ...*Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(cmds))
	for _, cmd := range cmds {
		if cmd == nil || cmd.Definition == nil || cmd.Handle == nil || cmd.Definition.Name == "" {
			return types.NewError(types.ErrInternalError, "command needs a named definition and a handler")
		}
		name := cmd.Name()
		if _, exists := r.commands[name]; exists || seen[name] {
			return types.NewError(types.ErrInternalError, fmt.Sprintf("Command %s is already registered", name))
		}
		seen[name] = true
	}

	for _, cmd := range cmds {
		r.commands[cmd.Name()] = cmd
	}
	return nil
}

// Get returns the command registered under name
func (r *Registry) Get(name string) (*Command, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cmd, exists := r.commands[name]
	if !exists {
		return nil, types.NewError(types.ErrNotFound, fmt.Sprintf("Command %s not found", name))
	}
	return cmd, nil
}

// Names returns the registered command names in order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the definitions to publish to Discord, ordered by name
func (r *Registry) Definitions() []*discordgo.ApplicationCommand {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*discordgo.ApplicationCommand, 0, len(names))
	for _, name := range names {
		defs = append(defs, r.commands[name].Definition)
	}
	return defs
}
