package discord

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/fadedpez/cantina/internal/commands"
	idiscord "github.com/fadedpez/cantina/internal/discord"
	"github.com/fadedpez/cantina/internal/types"
)

func (h *Handlers) marketCommands() []*commands.Command {
	item := func(required bool) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "item",
			Description: "Item name",
			Required:    required,
			MaxLength:   64,
		}
	}
	positive := func(name, description string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionInteger,
			Name:        name,
			Description: description,
			Required:    true,
			MinValue:    &minOne,
		}
	}
	listingID := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "id",
		Description: "Listing ID",
		Required:    true,
	}

	return []*commands.Command{
		{
			Definition: &discordgo.ApplicationCommand{
				Name:        "market",
				Description: "Trade items with other members",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        "browse",
						Description: "Show the live listings",
						Options:     []*discordgo.ApplicationCommandOption{item(false)},
					},
					{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        "sell",
						Description: "List items from your inventory",
						Options: []*discordgo.ApplicationCommandOption{
							item(true),
							positive("quantity", "How many to list"),
							positive("price", "Price per item"),
						},
					},
					{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        "cancel",
						Description: "Take down one of your listings",
						Options:     []*discordgo.ApplicationCommandOption{listingID},
					},
					{
						Type:        discordgo.ApplicationCommandOptionSubCommand,
						Name:        "buy",
						Description: "Buy from a listing",
						Options:     []*discordgo.ApplicationCommandOption{listingID, positive("quantity", "How many to buy")},
					},
				},
			},
			Handle: h.handleMarket,
		},
		{
			Definition: &discordgo.ApplicationCommand{
				Name:        "inventory",
				Description: "Show the items you hold",
			},
			Handle: h.handleInventory,
		},
		{
			Definition: &discordgo.ApplicationCommand{
				Name:                     "grant",
				Description:              "Give items to a member",
				DefaultMemberPermissions: &managerPermission,
				DMPermission:             &guildOnly,
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionUser,
						Name:        "user",
						Description: "Who receives the items",
						Required:    true,
					},
					item(true),
					positive("quantity", "How many to give"),
				},
			},
			Handle: h.handleGrant,
		},
	}
}

func (h *Handlers) handleMarket(ctx context.Context, i *discordgo.InteractionCreate) (*idiscord.Response, error) {
	name, opts := subcommand(i)
	switch name {
	case "browse":
		return h.marketBrowse(ctx, opts)
	case "sell":
		return h.marketSell(ctx, InvokerID(i), opts)
	case "cancel":
		return h.marketCancel(ctx, InvokerID(i), opts)
	case "buy":
		return h.marketBuy(ctx, InvokerID(i), opts)
	}
	return nil, types.Errorf(types.ErrNotFound, "unknown market action %q", name)
}

func (h *Handlers) marketBrowse(ctx context.Context, opts options) (*idiscord.Response, error) {
	item := itemName(opts.stringOpt("item"))
	offers, err := h.market.Browse(ctx, item)
	if err != nil {
		return nil, err
	}
	if len(offers) == 0 {
		if item != "" {
			return idiscord.NewEphemeralResponse(fmt.Sprintf("🕸️ Nobody is selling %s right now.", item), nil), nil
		}
		return idiscord.NewEphemeralResponse("🕸️ The market is empty.", nil), nil
	}
	return idiscord.NewEmbedResponse(marketEmbed(item, offers, browseLimit), false), nil
}

func (h *Handlers) marketSell(ctx context.Context, ownerID string, opts options) (*idiscord.Response, error) {
	quantity, err := opts.requireInt("quantity")
	if err != nil {
		return nil, err
	}
	price, err := opts.requireInt("price")
	if err != nil {
		return nil, err
	}

	offer, err := h.market.Sell(ctx, ownerID, itemName(opts.stringOpt("item")), quantity, price)
	if err != nil {
		return nil, err
	}
	content := fmt.Sprintf("🏷️ Listed **%d× %s** at %d each. Listing `%s` expires %s.",
		offer.Quantity, offer.Item, offer.Price, offer.ListingID, relative(offer.ExpiresAt))
	return idiscord.NewResponse(content, nil), nil
}

func (h *Handlers) marketCancel(ctx context.Context, requesterID string, opts options) (*idiscord.Response, error) {
	offer, err := h.market.Cancel(ctx, strings.TrimSpace(opts.stringOpt("id")), requesterID)
	if err != nil {
		return nil, err
	}
	content := fmt.Sprintf("↩️ Listing `%s` cancelled. **%d× %s** returned to your inventory.",
		offer.ListingID, offer.Quantity, offer.Item)
	return idiscord.NewEphemeralResponse(content, nil), nil
}

func (h *Handlers) marketBuy(ctx context.Context, buyerID string, opts options) (*idiscord.Response, error) {
	quantity, err := opts.requireInt("quantity")
	if err != nil {
		return nil, err
	}

	p, err := h.market.Buy(ctx, buyerID, strings.TrimSpace(opts.stringOpt("id")), quantity)
	if err != nil {
		return nil, err
	}
	content := fmt.Sprintf("🛒 %s bought **%d× %s** from %s for %d.",
		mention(buyerID), p.Quantity, p.Offer.Item, mention(p.Offer.OwnerID), p.Total)
	if p.Offer.Quantity == 0 {
		content += " The listing is sold out."
	}
	return idiscord.NewResponse(content, nil), nil
}

func (h *Handlers) handleInventory(ctx context.Context, i *discordgo.InteractionCreate) (*idiscord.Response, error) {
	items, err := h.market.Inventory(ctx, InvokerID(i))
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return idiscord.NewEphemeralResponse("🎒 Your inventory is empty.", nil), nil
	}
	return idiscord.NewEmbedResponse(inventoryEmbed(items), true), nil
}

func (h *Handlers) handleGrant(ctx context.Context, i *discordgo.InteractionCreate) (*idiscord.Response, error) {
	if _, err := requireGuild(i); err != nil {
		return nil, err
	}
	opts := commandOptions(i)
	userID, err := opts.requireUser("user")
	if err != nil {
		return nil, err
	}
	quantity, err := opts.requireInt("quantity")
	if err != nil {
		return nil, err
	}
	item := itemName(opts.stringOpt("item"))

	if err := h.market.Grant(ctx, userID, item, quantity); err != nil {
		return nil, err
	}
	return idiscord.NewResponse(fmt.Sprintf("🎉 %s received **%d× %s**.", mention(userID), quantity, item), nil), nil
}

// itemName normalizes item names so "Gem " and "gem" are the same item
func itemName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
