// Package ui handles terminal interactions: listing conflicts and asking
// the user how each one should be resolved.
package ui

import (
	"fmt"

	"github.com/manifoldco/promptui"

	"davsync/internal/domain"
)

// ConsoleUI drives interactive prompts on the terminal.
type ConsoleUI struct {
	nonInteractive bool
}

func NewConsoleUI(nonInteractive bool) *ConsoleUI {
	return &ConsoleUI{nonInteractive: nonInteractive}
}

// SelectConflict asks the user to pick one of the unresolved conflicts.
func (c *ConsoleUI) SelectConflict(conflicts []domain.SyncConflict) (domain.SyncConflict, error) {
	if c.nonInteractive {
		return domain.SyncConflict{}, fmt.Errorf("cannot prompt in non-interactive mode")
	}
	if len(conflicts) == 0 {
		return domain.SyncConflict{}, fmt.Errorf("no unresolved conflicts")
	}

	items := make([]string, len(conflicts))
	for i, conflict := range conflicts {
		items[i] = fmt.Sprintf("%s  [%s]  local %s / remote %s",
			conflict.ItemPath,
			conflict.Type,
			conflict.LocalModified.Format("2006-01-02 15:04"),
			conflict.RemoteModified.Format("2006-01-02 15:04"))
	}

	prompt := promptui.Select{
		Label: "Select a conflict to resolve",
		Items: items,
		Size:  10,
	}
	idx, _, err := prompt.Run()
	if err != nil {
		return domain.SyncConflict{}, err
	}
	return conflicts[idx], nil
}

// SelectResolution asks how the chosen conflict should be settled.
func (c *ConsoleUI) SelectResolution(conflict domain.SyncConflict) (domain.ConflictResolution, error) {
	if c.nonInteractive {
		return "", fmt.Errorf("cannot prompt in non-interactive mode")
	}

	options := []struct {
		Label      string
		Resolution domain.ConflictResolution
	}{
		{"Keep local version", domain.KeepLocal},
		{"Keep remote version", domain.KeepRemote},
		{"Keep both (local copy renamed)", domain.KeepBoth},
		{"Skip for now", domain.SkipItem},
	}
	items := make([]string, len(options))
	for i, o := range options {
		items[i] = o.Label
	}

	prompt := promptui.Select{
		Label: fmt.Sprintf("Resolve %s", conflict.ItemPath),
		Items: items,
	}
	idx, _, err := prompt.Run()
	if err != nil {
		return "", err
	}
	return options[idx].Resolution, nil
}

// Confirm asks a yes/no question, defaulting to no.
func (c *ConsoleUI) Confirm(question string) (bool, error) {
	if c.nonInteractive {
		return true, nil
	}
	prompt := promptui.Prompt{
		Label:     question,
		IsConfirm: true,
	}
	_, err := prompt.Run()
	if err == promptui.ErrAbort {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
