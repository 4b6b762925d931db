package main

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/tatianab/story-loop/internal/cli"
	"github.com/tatianab/story-loop/internal/config"
	"github.com/tatianab/story-loop/internal/engine"
	"github.com/tatianab/story-loop/internal/journal"
	"github.com/tatianab/story-loop/internal/logging"
	"github.com/tatianab/story-loop/internal/models"
	"github.com/tatianab/story-loop/internal/prompt"
	"github.com/tatianab/story-loop/internal/provider"
)

const maxTurns = 10

func main() {
	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.GeminiAPIKey == "" {
		log.Fatal("GEMINI_API_KEY is required for the player model")
	}

	logger, _, err := logging.New(cfg.LogLevel, "")
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	j, err := journal.Open(cfg.JournalPath)
	if err != nil {
		log.Fatalf("Failed to open journal: %v", err)
	}
	defer j.Close()

	// The game master uses the configured provider.
	gm, closeGM, err := cli.NewEngine(ctx, cfg, engine.WithLogger(logger), engine.WithRecorder(j))
	if err != nil {
		log.Fatalf("Failed to create GM engine: %v", err)
	}
	defer closeGM()

	// The player is always Gemini.
	playerClient, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		log.Fatalf("Failed to create player client: %v", err)
	}
	defer playerClient.Close()
	playerModel := playerClient.GenerativeModel(provider.Gemini.DefaultModel())

	sc, err := models.DefaultScenario()
	if err != nil {
		log.Fatalf("Failed to load scenario: %v", err)
	}
	session := models.NewSession(sc)

	fmt.Printf("--- %s (GM: %s) ---\n\n", sc.Title, gm.Provider().DisplayName())
	if _, err := gm.StartGame(ctx, session); err != nil {
		log.Fatalf("Failed to start game: %s", engine.UserMessage(err, cfg.Language()))
	}
	printRound(session)

	for turn := 1; turn <= maxTurns; turn++ {
		fmt.Printf("--- Turn %d ---\n", turn)

		choice := getPlayerChoice(ctx, playerModel, session)
		action := engine.ResolveInput(session.Options, choice)
		fmt.Printf("Player Action: [%s] %s\n", choice, action)

		t, err := gm.PlayRound(ctx, session, action)
		if err != nil {
			fmt.Printf("Error processing turn: %v\n", err)
			fmt.Println(engine.UserMessage(err, cfg.Language()))
			break
		}
		fmt.Printf("(method=%s auto_fixed=%t attempts=%d tokens=%d)\n", t.Parse.Method, t.Parse.AutoFixed, t.Attempts, t.PromptTokens)
		printRound(session)
	}

	if err := session.Save(cfg.SaveDir, "simulation"); err != nil {
		log.Printf("Failed to save simulation: %v", err)
	}
	stats, err := j.Stats(ctx)
	if err == nil {
		fmt.Printf("Journal: %d rounds, %d auto-fixed, failures %v\n", stats.Rounds, stats.AutoFixed, stats.Failures)
	}
}

func printRound(s *models.GameSession) {
	if len(s.History) == 0 {
		return
	}
	last := s.History[len(s.History)-1]
	fmt.Printf("Scene: %s\n%s\n", last.Response.Scene, last.Response.Narration)
	for _, f := range s.Scenario.Status.Fields {
		if v, ok := s.State.PlayerStatus[f.Name]; ok {
			fmt.Printf("  %s: %s\n", f.Label(), v)
		}
	}
	for _, o := range s.Options {
		fmt.Printf("  %s. %s\n", o.ID, o.Text)
	}
	fmt.Println()
}

// getPlayerChoice asks the player model for an option letter.
func getPlayerChoice(ctx context.Context, model *genai.GenerativeModel, s *models.GameSession) string {
	var opts strings.Builder
	for _, o := range s.Options {
		fmt.Fprintf(&opts, "%s. %s\n", o.ID, o.Text)
	}
	var history strings.Builder
	for _, r := range s.History {
		fmt.Fprintf(&history, "Round %d: %s\n", r.Round, r.Response.Narration)
	}
	var status strings.Builder
	for k, v := range s.State.PlayerStatus {
		fmt.Fprintf(&status, "%s: %s\n", k, v)
	}
	var extra strings.Builder
	for _, k := range s.State.CustomData.Keys() {
		v, _ := s.State.CustomData.Get(k)
		fmt.Fprintf(&extra, "%s: %s\n", k, prompt.FormatData(v))
	}

	p := fmt.Sprintf(`You are playing an interactive fiction game.
World: %s

History:
%s
Status:
%s%s
Options:
%s
Which option do you pick? Return ONLY the letter A, B or C.`,
		s.Scenario.World.Background, history.String(), status.String(), extra.String(), opts.String())

	resp, err := model.GenerateContent(ctx, genai.Text(p))
	if err != nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil ||
		len(resp.Candidates[0].Content.Parts) == 0 {
		return "A"
	}
	answer := strings.ToUpper(strings.TrimSpace(fmt.Sprintf("%v", resp.Candidates[0].Content.Parts[0])))
	for _, o := range s.Options {
		if strings.HasPrefix(answer, o.ID) {
			return o.ID
		}
	}
	return "A"
}
