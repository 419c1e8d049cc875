/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/Seednode/icebox/games/session"
	"github.com/Seednode/icebox/games/vote"
	"github.com/Seednode/icebox/storage"
)

const leaderboardSize = 10

type resultsResponse struct {
	vote.Results
	Rounded []int  `json:"rounded_percent"`
	Source  string `json:"source"` // "live" or "stored"
}

func writeJSON(cfg *Config, w http.ResponseWriter, status int, v any) (int, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	securityHeaders(cfg, w)
	w.WriteHeader(status)

	return w.Write(data)
}

// serveResults reports the tally of a poll: the live one when a game of the
// group has it open, otherwise the stored all-time tally.
func serveResults(cfg *Config, ctl *session.Controller, store *storage.Store, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		startTime := time.Now()
		group, poll := ps.ByName("group"), ps.ByName("poll")

		resp := resultsResponse{Source: "live"}

		res, ok := ctl.PollResults(group, poll)
		if !ok && store != nil {
			var err error
			res, err = store.Tally(r.Context(), poll)
			switch {
			case err == nil && res.PollID != "":
				ok = true
				resp.Source = "stored"
			case err != nil && !errors.Is(err, vote.ErrUnknownPoll):
				errs <- err
				_, _ = writeJSON(cfg, w, http.StatusInternalServerError, ErrorMessage{Type: "error", Message: "failed to load results"})
				return
			}
		}

		if !ok {
			_, _ = writeJSON(cfg, w, http.StatusNotFound, ErrorMessage{Type: "error", Message: "unknown poll"})
			return
		}

		resp.Results = res
		resp.Rounded = vote.Round(res)

		written, err := writeJSON(cfg, w, http.StatusOK, resp)
		if err != nil {
			errs <- err
			return
		}

		logf(cfg, "SERVE: Results for poll %s (%s) to %s in %s",
			poll,
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func serveLeaderboard(cfg *Config, store *storage.Store, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		top, err := store.Leaderboard(r.Context(), ps.ByName("group"), leaderboardSize)
		if err != nil {
			errs <- err
			_, _ = writeJSON(cfg, w, http.StatusInternalServerError, ErrorMessage{Type: "error", Message: "failed to load leaderboard"})
			return
		}
		if top == nil {
			top = []session.MatchResult{}
		}

		if _, err := writeJSON(cfg, w, http.StatusOK, top); err != nil {
			errs <- err
		}
	}
}

func registerAPI(cfg *Config, mux *httprouter.Router, ctl *session.Controller, store *storage.Store, errs chan<- error) {
	mux.GET(cfg.prefix+"/api/groups/:group/polls/:poll/results", serveResults(cfg, ctl, store, errs))

	if store != nil {
		mux.GET(cfg.prefix+"/api/groups/:group/leaderboard", serveLeaderboard(cfg, store, errs))
	}
}
