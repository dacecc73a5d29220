package discord

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/fadedpez/cantina/pkg/entities"
	"github.com/fadedpez/cantina/pkg/services/caselog"
	"github.com/fadedpez/cantina/pkg/services/market"
)

const (
	colorEconomy    = 0xF1C40F
	colorModeration = 0xE67E22
	colorMarket     = 0x2ECC71
)

func mention(userID string) string {
	return "<@" + userID + ">"
}

// relative renders a unix time the way each viewer's client formats it, e.g. "in 3 hours"
func relative(unix int64) string {
	return fmt.Sprintf("<t:%d:R>", unix)
}

func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func summary(l *entities.Ledger) string {
	return fmt.Sprintf("Purse: %d | Bank: %d/%d", l.Purse, l.Bank, l.BankCap)
}

func balanceEmbed(l *entities.Ledger) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "Balance",
		Description: mention(l.UserID),
		Color:       colorEconomy,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Purse", Value: fmt.Sprintf("%d", l.Purse), Inline: true},
			{Name: "Bank", Value: fmt.Sprintf("%d / %d", l.Bank, l.BankCap), Inline: true},
			{Name: "Total", Value: fmt.Sprintf("%d", l.Total()), Inline: true},
		},
	}
}

// historyField lists journal entries newest first, or returns nil when there are none
func historyField(history []*entities.Transaction) *discordgo.MessageEmbedField {
	if len(history) == 0 {
		return nil
	}
	var b strings.Builder
	for _, tx := range history {
		fmt.Fprintf(&b, "%s | %s | %d | %s\n", tx.Timestamp.Format("01/02 15:04"), tx.Type, tx.Amount, tx.Description)
	}
	return &discordgo.MessageEmbedField{
		Name:  "Recent Activity",
		Value: b.String(),
	}
}

func caseLine(c *entities.CaseEntry) string {
	return fmt.Sprintf("**#%d** <t:%d:d> by %s: %s", c.CaseNumber, c.Timestamp, mention(c.ActorID), c.Reason)
}

func casePageEmbed(subjectID string, category entities.CaseCategory, page *caselog.CasePage) *discordgo.MessageEmbed {
	lines := make([]string, 0, len(page.Entries))
	for _, c := range page.Entries {
		lines = append(lines, caseLine(c))
	}
	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("%s%s", strings.ToUpper(string(category[:1])), category[1:]),
		Description: mention(subjectID) + "\n\n" + strings.Join(lines, "\n"),
		Color:       colorModeration,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Page %d/%d | %d total", page.Page, page.TotalPages, page.Total),
		},
	}
}

func historyEmbed(subjectID string, entries []*entities.CaseEntry) *discordgo.MessageEmbed {
	lines := make([]string, 0, len(entries))
	for _, c := range entries {
		lines = append(lines, fmt.Sprintf("`%s` %s", c.Category, caseLine(c)))
	}
	return &discordgo.MessageEmbed{
		Title:       "Moderation History",
		Description: mention(subjectID) + "\n\n" + strings.Join(lines, "\n"),
		Color:       colorModeration,
	}
}

func offerLine(o *market.Offer) string {
	return fmt.Sprintf("`%s` **%d× %s** at %d each from %s, ends %s",
		o.ListingID, o.Quantity, o.Item, o.Price, mention(o.OwnerID), relative(o.ExpiresAt))
}

// marketEmbed shows at most limit offers and says how many were left out
func marketEmbed(item string, offers []*market.Offer, limit int) *discordgo.MessageEmbed {
	title := "Market"
	if item != "" {
		title = "Market: " + item
	}

	shown := offers
	if len(shown) > limit {
		shown = shown[:limit]
	}
	lines := make([]string, 0, len(shown))
	for _, o := range shown {
		lines = append(lines, offerLine(o))
	}

	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: strings.Join(lines, "\n"),
		Color:       colorMarket,
	}
	if len(offers) > limit {
		embed.Footer = &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Showing %d of %d listings. Filter by item to see more.", limit, len(offers)),
		}
	}
	return embed
}

func inventoryEmbed(items map[string]int64) *discordgo.MessageEmbed {
	names := make([]string, 0, len(items))
	for name := range items {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		lines = append(lines, fmt.Sprintf("**%s** × %d", name, items[name]))
	}
	return &discordgo.MessageEmbed{
		Title:       "Inventory",
		Description: strings.Join(lines, "\n"),
		Color:       colorMarket,
	}
}
