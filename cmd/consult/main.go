// Command consult is a headless consultation client: it joins an appointment
// room through the relay, negotiates a peer connection, and streams
// placeholder media. Useful for load tests and for standing in as the second
// participant during development.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"medlink/internal/consult"
	"medlink/internal/core/domain"
	"medlink/pkg/config"
	"medlink/pkg/logger"
	"medlink/pkg/utils"

	"github.com/pion/webrtc/v3"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	callID := flag.String("call", "", "appointment ID to join (required)")
	role := flag.String("role", "patient", "participant role: doctor or patient")
	participantID := flag.String("participant", "", "participant ID (defaults to a generated one)")
	token := flag.String("token", "", "consult token (fetched from the API when empty)")
	apiURL := flag.String("api", "http://localhost:8080", "platform API base URL, used to fetch a token")
	flag.Parse()

	if *callID == "" {
		fmt.Fprintln(os.Stderr, "-call is required")
		os.Exit(1)
	}
	if !domain.Role(*role).Valid() {
		fmt.Fprintf(os.Stderr, "invalid role %q: must be doctor or patient\n", *role)
		os.Exit(1)
	}
	if *participantID == "" {
		*participantID = utils.NewParticipantID()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, "console")
	defer log.Sync()
	sugar := log.Sugar()

	consultToken := *token
	if consultToken == "" {
		consultToken, err = fetchToken(*apiURL, *participantID, *role, *callID)
		if err != nil {
			sugar.Fatalw("failed to fetch consult token", "error", err)
		}
	}

	iceServers := make([]webrtc.ICEServer, 0, len(cfg.WebRTC.ICEServers))
	for _, s := range cfg.WebRTC.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	transport := consult.NewWebSocketTransport(cfg.Consult.ServerURL, consultToken, log)
	supervisor := consult.NewSupervisor(
		transport,
		consult.DefaultPolicy(cfg.Consult.RetryAttempts, cfg.Consult.RetryBaseDelay),
		func(status consult.Status) {
			sugar.Infow("transport status", "status", status)
		},
		log,
	)

	var localMedia *consult.LocalMedia
	session := consult.NewSession(
		consult.SessionConfig{
			CallID:         domain.CallID(*callID),
			ParticipantID:  domain.ParticipantID(*participantID),
			Role:           domain.Role(*role),
			ConnectTimeout: cfg.Consult.ConnectTimeout,
		},
		supervisor,
		transport,
		func() (consult.MediaSource, error) {
			media, err := consult.NewLocalMedia()
			if err != nil {
				return nil, err
			}
			localMedia = media
			return media, nil
		},
		func(media consult.MediaSource) (consult.PeerLink, error) {
			return consult.NewPionPeer(iceServers, media.(*consult.LocalMedia))
		},
		func(state consult.State) {
			sugar.Infow("call state", "state", state)
		},
		log,
	)

	ctx := context.Background()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		sugar.Info("hanging up")
		session.HangUp()
	}()

	sugar.Infow("joining consultation",
		"call_id", *callID,
		"participant_id", *participantID,
		"role", *role,
	)
	if err := session.Run(ctx); err != nil {
		if callErr, ok := err.(*consult.CallError); ok {
			sugar.Errorw("call failed",
				"kind", callErr.Kind,
				"message", callErr.Message,
				"advice", callErr.Advice,
			)
		} else {
			sugar.Errorw("call failed", "error", err)
		}
		os.Exit(1)
	}
	if localMedia != nil {
		sugar.Infow("call ended", "rtcp_packets_received", localMedia.RTCPReceived())
	} else {
		sugar.Info("call ended")
	}
}

func fetchToken(apiURL, participantID, role, callID string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"participant_id": participantID,
		"role":           role,
		"call_id":        callID,
	})
	if err != nil {
		return "", err
	}

	resp, err := http.Post(apiURL+"/api/v1/tokens", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("token endpoint returned %s", resp.Status)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Token, nil
}
