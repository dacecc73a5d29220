package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/fadedpez/cantina/internal/commands"
	idiscord "github.com/fadedpez/cantina/internal/discord"
)

func (h *Handlers) economyCommands() []*commands.Command {
	amount := func(description string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionInteger,
			Name:        "amount",
			Description: description,
			Required:    true,
			MinValue:    &minOne,
		}
	}

	return []*commands.Command{
		{
			Definition: &discordgo.ApplicationCommand{
				Name:        "balance",
				Description: "Show your purse and bank, or someone else's",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionUser,
						Name:        "user",
						Description: "Whose balance to show",
					},
				},
			},
			Handle: h.handleBalance,
		},
		{
			Definition: &discordgo.ApplicationCommand{
				Name:        "deposit",
				Description: "Move coins from your purse into the bank",
				Options:     []*discordgo.ApplicationCommandOption{amount("How much to deposit")},
			},
			Handle: h.handleDeposit,
		},
		{
			Definition: &discordgo.ApplicationCommand{
				Name:        "withdraw",
				Description: "Move coins from the bank into your purse",
				Options:     []*discordgo.ApplicationCommandOption{amount("How much to withdraw")},
			},
			Handle: h.handleWithdraw,
		},
		{
			Definition: &discordgo.ApplicationCommand{
				Name:        "daily",
				Description: "Claim your daily reward",
			},
			Handle: h.handleDaily,
		},
		{
			Definition: &discordgo.ApplicationCommand{
				Name:        "pay",
				Description: "Pay another member from your purse",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionUser,
						Name:        "user",
						Description: "Who to pay",
						Required:    true,
					},
					amount("How much to pay"),
				},
			},
			Handle: h.handlePay,
		},
		{
			Definition: &discordgo.ApplicationCommand{
				Name:                     "bankcap",
				Description:              "Set how much a member can keep in the bank",
				DefaultMemberPermissions: &managerPermission,
				DMPermission:             &guildOnly,
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionUser,
						Name:        "user",
						Description: "Whose bank to resize",
						Required:    true,
					},
					amount("The new bank capacity"),
				},
			},
			Handle: h.handleBankCap,
		},
	}
}

func (h *Handlers) handleBalance(ctx context.Context, i *discordgo.InteractionCreate) (*idiscord.Response, error) {
	self := InvokerID(i)
	userID := commandOptions(i).userOpt("user")
	if userID == "" {
		userID = self
	}

	l, err := h.ledger.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}

	embed := balanceEmbed(l)
	if userID == self {
		// history is best effort
		history, err := h.ledger.History(ctx, userID, historyLimit)
		if err != nil {
			h.logger.Warn("Error reading history for %s: %v", userID, err)
		} else if field := historyField(history); field != nil {
			embed.Fields = append(embed.Fields, field)
		}
	}
	return idiscord.NewEmbedResponse(embed, false), nil
}

func (h *Handlers) handleDeposit(ctx context.Context, i *discordgo.InteractionCreate) (*idiscord.Response, error) {
	amount, err := commandOptions(i).requireInt("amount")
	if err != nil {
		return nil, err
	}
	l, err := h.ledger.Deposit(ctx, InvokerID(i), amount)
	if err != nil {
		return nil, err
	}
	return idiscord.NewResponse(fmt.Sprintf("🏦 Deposited **%d**. %s", amount, summary(l)), nil), nil
}

func (h *Handlers) handleWithdraw(ctx context.Context, i *discordgo.InteractionCreate) (*idiscord.Response, error) {
	amount, err := commandOptions(i).requireInt("amount")
	if err != nil {
		return nil, err
	}
	l, err := h.ledger.Withdraw(ctx, InvokerID(i), amount)
	if err != nil {
		return nil, err
	}
	return idiscord.NewResponse(fmt.Sprintf("👛 Withdrew **%d**. %s", amount, summary(l)), nil), nil
}

func (h *Handlers) handleDaily(ctx context.Context, i *discordgo.InteractionCreate) (*idiscord.Response, error) {
	claim, err := h.rewards.ClaimDaily(ctx, InvokerID(i))
	if err != nil {
		return nil, err
	}

	content := fmt.Sprintf("🎁 You claimed **%d**! Streak: %s. Come back %s.",
		claim.Amount, plural(claim.Streak, "day"), relative(claim.Next.Unix()))
	return idiscord.NewResponse(content, nil), nil
}

func (h *Handlers) handlePay(ctx context.Context, i *discordgo.InteractionCreate) (*idiscord.Response, error) {
	opts := commandOptions(i)
	to, err := opts.requireUser("user")
	if err != nil {
		return nil, err
	}
	amount, err := opts.requireInt("amount")
	if err != nil {
		return nil, err
	}

	from := InvokerID(i)
	payer, _, err := h.ledger.Transfer(ctx, from, to, amount)
	if err != nil {
		return nil, err
	}
	content := fmt.Sprintf("💸 %s paid %s **%d**. Purse left: %d", mention(from), mention(to), amount, payer.Purse)
	return idiscord.NewResponse(content, nil), nil
}

func (h *Handlers) handleBankCap(ctx context.Context, i *discordgo.InteractionCreate) (*idiscord.Response, error) {
	if _, err := requireGuild(i); err != nil {
		return nil, err
	}
	opts := commandOptions(i)
	userID, err := opts.requireUser("user")
	if err != nil {
		return nil, err
	}
	bankCap, err := opts.requireInt("amount")
	if err != nil {
		return nil, err
	}

	l, err := h.ledger.SetBankCap(ctx, userID, bankCap)
	if err != nil {
		return nil, err
	}
	h.logger.Info("Bank cap of %s set to %d by %s", userID, bankCap, InvokerID(i))
	return idiscord.NewEphemeralResponse(fmt.Sprintf("🏦 %s can now keep up to **%d** in the bank. %s", mention(userID), l.BankCap, summary(l)), nil), nil
}
