package server

import (
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Maddoux/Canadian-Helper/internal/catalog"
	"github.com/Maddoux/Canadian-Helper/internal/domain"
	"github.com/Maddoux/Canadian-Helper/internal/engine"
	"github.com/Maddoux/Canadian-Helper/internal/errors"
)

type recordInfractionRequest struct {
	UserID  string `json:"user_id"`
	RuleID  string `json:"rule_id"`
	Tier    string `json:"tier"`
	ActorID string `json:"actor_id"`
	Note    string `json:"note"`
}

type sanctionResponse struct {
	UserID             string     `json:"user_id"`
	Kind               string     `json:"kind"`
	Status             string     `json:"status"`
	StartAt            time.Time  `json:"start_at"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	Duration           string     `json:"duration"`
	Unbounded          bool       `json:"unbounded"`
	SourceInfractionID int64      `json:"source_infraction_id"`
}

type recordInfractionResponse struct {
	InfractionID int64            `json:"infraction_id"`
	PriorCount   int              `json:"prior_count"`
	Extended     bool             `json:"extended"`
	Sanction     sanctionResponse `json:"sanction"`
}

type infractionResponse struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	RuleID    string    `json:"rule_id"`
	Tier      string    `json:"tier"`
	ActorID   string    `json:"actor_id"`
	Note      string    `json:"note,omitempty"`
	Retracted bool      `json:"retracted"`
	CreatedAt time.Time `json:"created_at"`
}

func toSanctionResponse(s *domain.Sanction) sanctionResponse {
	resp := sanctionResponse{
		UserID:             s.UserID,
		Kind:               string(s.Kind),
		Status:             string(s.Status),
		StartAt:            s.StartAt,
		Duration:           catalog.FormatSpan(catalog.Span{Duration: s.Duration, Unbounded: s.Unbounded}),
		Unbounded:          s.Unbounded,
		SourceInfractionID: s.SourceInfractionID,
	}
	if expiry, ok := s.ExpiresAt(); ok {
		resp.ExpiresAt = &expiry
	}
	return resp
}

func (s *Server) handleRecordInfraction(c echo.Context) error {
	var req recordInfractionRequest
	if err := c.Bind(&req); err != nil {
		return errors.ValidationError("invalid request body")
	}

	result, err := s.service.RecordInfraction(c.Request().Context(), engine.RecordRequest{
		UserID:  req.UserID,
		RuleID:  req.RuleID,
		Tier:    req.Tier,
		ActorID: req.ActorID,
		Note:    req.Note,
	})
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusCreated, recordInfractionResponse{
		InfractionID: result.InfractionID,
		PriorCount:   result.PriorCount,
		Extended:     result.Extended,
		Sanction:     toSanctionResponse(result.Sanction),
	})
}

func (s *Server) handleRetract(c echo.Context) error {
	userID := c.Param("user_id")
	infractionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return errors.ValidationError("invalid infraction id")
	}

	if err := s.service.Retract(c.Request().Context(), userID, infractionID); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleHistory(c echo.Context) error {
	history, err := s.service.History(c.Request().Context(), c.Param("user_id"))
	if err != nil {
		return mapServiceError(err)
	}

	out := make([]infractionResponse, 0, len(history))
	for _, inf := range history {
		out = append(out, infractionResponse{
			ID:        inf.ID,
			UserID:    inf.UserID,
			RuleID:    inf.RuleID,
			Tier:      inf.Tier,
			ActorID:   inf.ActorID,
			Note:      inf.Note,
			Retracted: inf.Retracted,
			CreatedAt: inf.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleListSanctions(c echo.Context) error {
	active, err := s.service.ActiveSanctions(c.Request().Context())
	if err != nil {
		return mapServiceError(err)
	}

	out := make([]sanctionResponse, 0, len(active))
	for i := range active {
		out = append(out, toSanctionResponse(&active[i]))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleForceLift(c echo.Context) error {
	userID := c.Param("user_id")
	kind := domain.SanctionKind(c.Param("kind"))

	prev, err := s.service.ForceLift(c.Request().Context(), userID, kind)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, toSanctionResponse(prev))
}

type tierResponse struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Base       string `json:"base"`
	Increment  string `json:"increment,omitempty"`
	Escalation string `json:"escalation"`
}

type ruleResponse struct {
	ID    string         `json:"id"`
	Title string         `json:"title"`
	Tiers []tierResponse `json:"tiers"`
}

func (s *Server) handleListRules(c echo.Context) error {
	rules := s.catalog.Rules()
	out := make([]ruleResponse, 0, len(rules))
	for _, rule := range rules {
		resp := ruleResponse{ID: rule.ID, Title: rule.Title}
		for _, tier := range rule.Tiers {
			tr := tierResponse{
				Name:       tier.Name,
				Kind:       string(tier.Kind),
				Base:       catalog.FormatSpan(tier.Base),
				Escalation: string(tier.Escalation),
			}
			if tier.Increment != (catalog.Span{}) {
				tr.Increment = catalog.FormatSpan(tier.Increment)
			}
			resp.Tiers = append(resp.Tiers, tr)
		}
		out = append(out, resp)
	}
	return c.JSON(http.StatusOK, out)
}

// mapServiceError translates engine errors into structured API errors.
func mapServiceError(err error) error {
	switch {
	case stderrors.Is(err, domain.ErrInvalidRequest),
		stderrors.Is(err, domain.ErrUnknownRule),
		stderrors.Is(err, domain.ErrUnknownTier):
		return errors.ValidationError(err.Error())
	case stderrors.Is(err, domain.ErrSanctionNotFound), stderrors.Is(err, domain.ErrInfractionNotFound):
		return errors.NotFoundError(err.Error())
	case stderrors.Is(err, domain.ErrStorageUnavailable):
		return errors.UnavailableError("storage unavailable", err)
	default:
		return errors.InternalError("operation failed", err)
	}
}
