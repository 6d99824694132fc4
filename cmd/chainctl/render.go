package main

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/pterm/pterm"

	"github.com/VanDung-dev/Consortium-Ledger/ledger"
	"github.com/VanDung-dev/Consortium-Ledger/membership"
	"github.com/VanDung-dev/Consortium-Ledger/node"
	"github.com/VanDung-dev/Consortium-Ledger/notify"
)

func short(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12]
}

func renderBlocks(blocks []ledger.Block) error {
	data := pterm.TableData{{"Index", "Time", "Txs", "Approvals", "Proposer", "Hash", "Previous"}}
	for _, b := range blocks {
		data = append(data, []string{
			strconv.FormatInt(b.Index, 10),
			b.Timestamp.Format(time.RFC3339),
			strconv.Itoa(len(b.Transactions)),
			fmt.Sprintf("%d/%d", b.Approvals(), len(b.Votes)),
			short(b.Proposer),
			short(b.Hash),
			short(b.PreviousHash),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Render()
}

func renderMembers(entries []membership.Entry) error {
	if len(entries) == 0 {
		pterm.Info.Println("No entries")
		return nil
	}
	data := pterm.TableData{{"Name", "Address", "Role", "Status", "Since"}}
	for _, e := range entries {
		data = append(data, []string{e.Name, e.Address, string(e.Role), string(e.Status), e.Timestamp.Format(time.RFC3339)})
	}
	return pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Render()
}

func renderProposal(b ledger.Block) {
	voters := make([]string, 0, len(b.Votes))
	for v := range b.Votes {
		voters = append(voters, v)
	}
	sort.Strings(voters)

	body := pterm.Sprintfln("Proposer: %s", b.Proposer)
	body += pterm.Sprintfln("Proposed: %s", b.Timestamp.Format(time.RFC3339))
	body += pterm.Sprintfln("Transactions: %d", len(b.Transactions))
	for _, v := range voters {
		mark := pterm.LightGreen("approve")
		if !b.Votes[v] {
			mark = pterm.LightRed("reject")
		}
		body += pterm.Sprintfln("  %s %s", v, mark)
	}
	title := pterm.LightYellow(fmt.Sprintf("|BLOCK %d|", b.Index))
	pterm.DefaultBox.WithTitle(title).WithTitleTopCenter().WithHorizontalPadding(2).Println(body)
}

func renderStatus(st node.Status) {
	body := pterm.Sprintfln("Height: %d", st.Height)
	body += pterm.Sprintfln("Head: %s", st.HeadHash)
	body += pterm.Sprintfln("Members: %d (pending %d)", st.Members, st.Pending)
	body += pterm.Sprintfln("Pool: %d", st.Pool.Size)
	body += pterm.Sprintfln("Blocks: %d committed, %d rejected, %d open",
		st.Consensus.Committed, st.Consensus.Rejected, st.Consensus.Open)
	title := pterm.LightCyan("|NODE|")
	if st.Halted != "" {
		body += pterm.Sprintfln("Halted: %s", pterm.LightRed(st.Halted))
		title = pterm.LightRed("|NODE HALTED|")
	}
	pterm.DefaultBox.WithTitle(title).WithTitleTopCenter().WithHorizontalPadding(2).Println(body)
}

func renderNotice(n notify.Notice) {
	line := fmt.Sprintf("[%s] %s %s: %s", n.At.Format(time.RFC3339), n.Subject, n.Ref, n.Message)
	switch n.Kind {
	case notify.KindCommitted:
		pterm.Success.Println(line)
	case notify.KindEscalated, notify.KindAutoRejected:
		pterm.Warning.Println(line)
	default:
		pterm.Info.Println(line)
	}
}
