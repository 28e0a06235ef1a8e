package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/urfave/cli/v2"
)

// flags
var (
	urlFlag = &cli.StringFlag{
		Name:  "url",
		Usage: "base url of the raffle daemon",
		Value: "http://localhost:7080",
	}
	addressFlag = &cli.StringFlag{
		Name:     "address",
		Usage:    "address entering the raffle and receiving a possible payout",
		Required: true,
	}
	amountFlag = &cli.Uint64Flag{
		Name:     "amount",
		Usage:    "amount paid to enter, must cover the entrance fee",
		Required: true,
	}
)

// commands
var (
	statusCmd = &cli.Command{
		Name:   "status",
		Usage:  "Get info about the current raffle round",
		Action: statusAction,
		Flags:  []cli.Flag{urlFlag},
	}
	enterCmd = &cli.Command{
		Name:   "enter",
		Usage:  "Enter the current raffle round",
		Action: enterAction,
		Flags:  []cli.Flag{urlFlag, addressFlag, amountFlag},
	}
	upkeepCmd = &cli.Command{
		Name:   "upkeep",
		Usage:  "Check whether upkeep is needed and optionally trigger it",
		Action: upkeepAction,
		Flags: []cli.Flag{
			urlFlag,
			&cli.BoolFlag{
				Name:  "perform",
				Usage: "trigger the randomness request instead of only checking",
			},
		},
	}
)

func statusAction(ctx *cli.Context) error {
	url := fmt.Sprintf("%s/v1/raffle", ctx.String("url"))
	info, err := get[raffleInfo](url)
	if err != nil {
		return err
	}

	fmt.Println(info)
	return nil
}

func enterAction(ctx *cli.Context) error {
	url := fmt.Sprintf("%s/v1/raffle/entries", ctx.String("url"))
	body := fmt.Sprintf(
		`{"address": "%s", "amount": %d}`,
		ctx.String("address"), ctx.Uint64("amount"),
	)
	if _, err := post[struct{}](url, body); err != nil {
		return err
	}

	fmt.Println("entered")
	return nil
}

func upkeepAction(ctx *cli.Context) error {
	baseURL := ctx.String("url")

	if !ctx.Bool("perform") {
		url := fmt.Sprintf("%s/v1/raffle/upkeep", baseURL)
		resp, err := get[map[string]bool](url)
		if err != nil {
			return err
		}

		fmt.Printf("upkeep needed: %t\n", resp["upkeepNeeded"])
		return nil
	}

	url := fmt.Sprintf("%s/v1/raffle/upkeep", baseURL)
	resp, err := post[map[string]string](url, "")
	if err != nil {
		return err
	}

	fmt.Printf("randomness requested: %s\n", resp["requestId"])
	return nil
}

func post[T any](url, body string) (result T, err error) {
	req, err := http.NewRequest("POST", url, strings.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Add("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return
	}
	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("failed to post: %s", string(buf))
		return
	}

	if err = json.Unmarshal(buf, &result); err != nil {
		return
	}
	return
}

func get[T any](url string) (result T, err error) {
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return
	}
	req.Header.Add("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return
	}
	if resp.StatusCode != http.StatusOK {
		err = fmt.Errorf("failed to get: %s", string(buf))
		return
	}

	if err = json.Unmarshal(buf, &result); err != nil {
		return
	}
	return
}

type winnerInfo struct {
	Address    string `json:"address"`
	Index      int    `json:"index"`
	RandomWord string `json:"randomWord"`
	Payout     uint64 `json:"payout"`
}

func (w winnerInfo) String() string {
	return fmt.Sprintf(
		"   address: %s\n   index: %d\n   random word: %s\n   payout: %d",
		w.Address, w.Index, w.RandomWord, w.Payout,
	)
}

type raffleInfo struct {
	RoundId          string      `json:"roundId"`
	State            string      `json:"state"`
	EntranceFee      uint64      `json:"entranceFee"`
	NumEntries       int         `json:"numEntries"`
	PotAmount        uint64      `json:"potAmount"`
	RoundStartedAt   int64       `json:"roundStartedAt"`
	PendingRequestId string      `json:"pendingRequestId"`
	RecentWinner     *winnerInfo `json:"recentWinner"`
}

func (i raffleInfo) String() string {
	s := fmt.Sprintf(
		"round: %s\nstate: %s\nentrance fee: %d\nentries: %d\npot: %d",
		i.RoundId, i.State, i.EntranceFee, i.NumEntries, i.PotAmount,
	)
	if len(i.PendingRequestId) > 0 {
		s += fmt.Sprintf("\npending request: %s", i.PendingRequestId)
	}
	if i.RecentWinner != nil {
		s += fmt.Sprintf("\nrecent winner\n%s", i.RecentWinner)
	}
	return s
}
