package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"arbitrable/native/appeal"
	"arbitrable/native/escrow"
	"arbitrable/native/quiz"
)

var errInvalidAddress = errors.New("rpc: invalid address")

// Server exposes the read side of both engines over HTTP. Mutating
// operations stay engine-internal; observers follow case state through the
// event stream and query round ledgers here.
type Server struct {
	escrow *escrow.Engine
	quiz   *quiz.Engine
	log    *slog.Logger
}

// NewServer wires the read API around the two engines.
func NewServer(escrowEngine *escrow.Engine, quizEngine *quiz.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{escrow: escrowEngine, quiz: quizEngine, log: logger}
}

// Handler builds the chi router for the read API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLogger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/escrow/transactions/{id}", func(er chi.Router) {
		er.Get("/hash", s.escrowHash)
		er.Get("/rounds", s.escrowRounds)
		er.Get("/rounds/{round}", s.escrowRound)
		er.Get("/rounds/{round}/contributions/{addr}", s.escrowContributions)
	})

	r.Route("/quiz/questions/{id}", func(qr chi.Router) {
		qr.Get("/", s.quizQuestion)
		qr.Get("/rounds", s.quizRounds)
		qr.Get("/rounds/{round}", s.quizRound)
		qr.Get("/rounds/{round}/contributions/{addr}", s.quizContributions)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		s.log.Info("rpc request", "method", r.Method, "path", r.URL.Path)
	})
}

type roundPayload struct {
	PaidFees       map[string]string            `json:"paidFees"`
	FundedOutcomes []uint64                     `json:"fundedOutcomes"`
	FeeRewards     string                       `json:"feeRewards"`
	Appealed       bool                         `json:"appealed"`
	Contributions  map[string]map[string]string `json:"contributions,omitempty"`
}

func encodeRound(r *appeal.Round) roundPayload {
	payload := roundPayload{
		PaidFees:   make(map[string]string, len(r.PaidFees)),
		FeeRewards: r.FeeRewards.String(),
		Appealed:   r.Appealed,
	}
	for outcome, paid := range r.PaidFees {
		payload.PaidFees[strconv.FormatUint(uint64(outcome), 10)] = paid.String()
	}
	for _, outcome := range r.FundedOutcomes {
		payload.FundedOutcomes = append(payload.FundedOutcomes, uint64(outcome))
	}
	return payload
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func parseID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
}

func parseRound(r *http.Request) (int, error) {
	return strconv.Atoi(chi.URLParam(r, "round"))
}

func parseAddr(r *http.Request) ([20]byte, bool) {
	var addr [20]byte
	raw, err := hex.DecodeString(chi.URLParam(r, "addr"))
	if err != nil || len(raw) != len(addr) {
		return addr, false
	}
	copy(addr[:], raw)
	return addr, true
}

func (s *Server) escrowHash(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	hash, ok := s.escrow.TransactionHash(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"id":   strconv.FormatUint(id, 10),
		"hash": hex.EncodeToString(hash[:]),
	})
}

func (s *Server) escrowRounds(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	n := s.escrow.NumberOfRounds(id)
	if n == 0 {
		http.NotFound(w, r)
		return
	}
	rounds := make([]roundPayload, 0, n)
	for i := 0; i < n; i++ {
		round, err := s.escrow.RoundInfo(id, i)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		rounds = append(rounds, encodeRound(round))
	}
	s.writeJSON(w, http.StatusOK, rounds)
}

func (s *Server) escrowRound(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	idx, err := parseRound(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	round, err := s.escrow.RoundInfo(id, idx)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, http.StatusOK, encodeRound(round))
}

func (s *Server) escrowContributions(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	idx, err := parseRound(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	addr, ok := parseAddr(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, errInvalidAddress)
		return
	}
	cells, err := s.escrow.Contributions(id, idx, addr)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	payload := make(map[string]string, len(cells))
	for party, amount := range cells {
		payload[party.String()] = amount.String()
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) quizQuestion(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	q, err := s.quiz.GetQuestion(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":          q.ID,
		"host":        hex.EncodeToString(q.Host[:]),
		"guest":       hex.EncodeToString(q.Guest[:]),
		"amount":      q.Amount.String(),
		"deadline":    q.Deadline,
		"hostAnswer":  uint64(q.HostAnswer),
		"guestAnswer": uint64(q.GuestAnswer),
		"disputeId":   q.DisputeID,
		"ruling":      uint64(q.Ruling),
		"status":      uint8(q.Status),
	})
}

func (s *Server) quizRounds(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	n := s.quiz.GetNumberOfRounds(id)
	if n == 0 {
		http.NotFound(w, r)
		return
	}
	rounds := make([]roundPayload, 0, n)
	for i := 0; i < n; i++ {
		round, err := s.quiz.GetRoundInfo(id, i)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		rounds = append(rounds, encodeRound(round))
	}
	s.writeJSON(w, http.StatusOK, rounds)
}

func (s *Server) quizRound(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	idx, err := parseRound(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	round, err := s.quiz.GetRoundInfo(id, idx)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, http.StatusOK, encodeRound(round))
}

func (s *Server) quizContributions(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	idx, err := parseRound(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	addr, ok := parseAddr(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, errInvalidAddress)
		return
	}
	cells, err := s.quiz.GetContributions(id, idx, addr)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	payload := make(map[string]string, len(cells))
	for answer, amount := range cells {
		payload[strconv.FormatUint(uint64(answer), 10)] = amount.String()
	}
	s.writeJSON(w, http.StatusOK, payload)
}
