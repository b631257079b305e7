// Package flow runs authentication flows: one FIFO queue, one active
// flow, a closed set of terminal outcomes.
package flow

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/healthsign/authagent/internal/agent/connector"
	"github.com/healthsign/authagent/internal/agent/domain"
	"github.com/healthsign/authagent/internal/agent/idp"
	"github.com/healthsign/authagent/internal/agent/store"
	"github.com/healthsign/authagent/pkg/idx"
	"github.com/healthsign/authagent/pkg/josex"
)

// DefaultRetryDelay paces the missing-card loop.
const DefaultRetryDelay = 500 * time.Millisecond

// Flow states, logged on every transition.
const (
	stateParsing     = "PARSING"
	stateResolving   = "RESOLVING_CARD"
	stateCheckingPin = "CHECKING_PIN"
	stateSigning     = "SIGNING"
	stateEncrypting  = "ENCRYPTING"
	stateSubmitting  = "SUBMITTING"
)

// CardSelector resolves a multi-card ambiguity. Select blocks until the
// user picks a card or the flow is cancelled; there is no timeout.
type CardSelector interface {
	Select(ctx context.Context, cards []domain.Card) (domain.Card, error)
}

// FirstCardSelector picks the first card, for headless operation.
type FirstCardSelector struct{}

func (FirstCardSelector) Select(_ context.Context, cards []domain.Card) (domain.Card, error) {
	return cards[0], nil
}

// Prompter surfaces user prompts raised by a running flow.
type Prompter interface {
	InsertCard(cardType domain.CardType)
}

// LogPrompter writes prompts to the log, for headless operation.
type LogPrompter struct{ Log *slog.Logger }

func (p LogPrompter) InsertCard(cardType domain.CardType) {
	p.Log.Warn("please insert card", "card_type", cardType, "code", domain.CodePromptInsertCard)
}

// Sink receives every terminal result, in addition to the per-request
// channel. The listener registers here to answer parked requests.
type Sink func(domain.Result)

type item struct {
	id       string
	raw      string
	parentID string
	ch       chan domain.Result
}

// Engine owns the flow queue. Exactly one flow runs at a time; requests
// submitted while one is active wait in FIFO order.
type Engine struct {
	conn     *connector.Client
	idp      *idp.Client
	st       store.Store
	selector CardSelector
	prompter Prompter
	sink     Sink
	log      *slog.Logger

	retryDelay time.Duration

	mu      sync.Mutex
	queue   []item
	running bool
	cancel  context.CancelFunc
}

type Options struct {
	Selector   CardSelector
	Prompter   Prompter
	Sink       Sink
	RetryDelay time.Duration
}

func NewEngine(conn *connector.Client, idpClient *idp.Client, st store.Store, log *slog.Logger, opts Options) *Engine {
	if opts.Selector == nil {
		opts.Selector = FirstCardSelector{}
	}
	if opts.Prompter == nil {
		opts.Prompter = LogPrompter{Log: log}
	}
	if opts.Sink == nil {
		opts.Sink = func(domain.Result) {}
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	return &Engine{
		conn:       conn,
		idp:        idpClient,
		st:         st,
		selector:   opts.Selector,
		prompter:   opts.Prompter,
		sink:       opts.Sink,
		log:        log,
		retryDelay: opts.RetryDelay,
	}
}

// Submit queues decoded trigger content and returns the channel the
// terminal result will arrive on. The channel is buffered; abandoning
// it is safe.
func (e *Engine) Submit(content string) <-chan domain.Result {
	return e.enqueue(content, "")
}

func (e *Engine) enqueue(content, parentID string) <-chan domain.Result {
	it := item{
		id:       idx.New().String(),
		raw:      content,
		parentID: parentID,
		ch:       make(chan domain.Result, 1),
	}
	e.mu.Lock()
	e.queue = append(e.queue, it)
	start := !e.running
	if start {
		e.running = true
	}
	e.mu.Unlock()

	if start {
		go e.work()
	}
	return it.ch
}

// Cancel aborts the active flow. Queued flows are unaffected.
func (e *Engine) Cancel() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// dropDerived removes queued requests spawned by the given parent. A
// failed parent must not leave its sibling half of a multi-card login
// behind.
func (e *Engine) dropDerived(parentID string) {
	e.mu.Lock()
	var dropped []item
	kept := e.queue[:0]
	for _, it := range e.queue {
		if it.parentID == parentID {
			dropped = append(dropped, it)
			continue
		}
		kept = append(kept, it)
	}
	e.queue = kept
	e.mu.Unlock()

	for _, it := range dropped {
		e.log.Info("dropping derived request after parent failure", "request_id", it.id)
		fe := domain.NewFlowError(domain.KindCancelled, domain.CodeUserCancelled,
			"parent flow failed", nil)
		fe.Shown = true
		res := domain.Result{RequestID: it.id, Err: fe}
		it.ch <- res
		e.sink(res)
	}
}

// work drains the queue, one flow at a time. Failure advances the queue
// exactly like success.
func (e *Engine) work() {
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			e.running = false
			e.mu.Unlock()
			return
		}
		it := e.queue[0]
		e.queue = e.queue[1:]
		ctx, cancel := context.WithCancel(context.Background())
		e.cancel = cancel
		e.mu.Unlock()

		res := e.runFlow(ctx, it)

		e.mu.Lock()
		e.cancel = nil
		e.mu.Unlock()
		cancel()

		if res.Err != nil {
			e.dropDerived(it.id)
		}
		it.ch <- res
		e.sink(res)
	}
}

func cancelErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return domain.NewFlowError(domain.KindCancelled, domain.CodeUserCancelled, "cancelled by user", err)
	}
	return err
}

func (e *Engine) fail(id string, err error) domain.Result {
	fe := domain.AsFlowError(cancelErr(err))
	res := domain.Result{RequestID: id, Err: fe}
	if fe.OAuth != nil && fe.OAuth.ErrorURI != "" {
		res.URL = fe.OAuth.ErrorURI
	}
	if fe.Kind == domain.KindCancelled {
		// the user ended the flow themselves; the terminal page must
		// not report it back as a failure code
		fe.Shown = true
		e.log.Info("flow cancelled", "request_id", id)
	} else {
		e.log.Error("flow failed", "request_id", id, "kind", fe.Kind.String(), "code", fe.Code, "err", fe)
	}
	return res
}

// runFlow executes one flow start to finish. Every return path yields a
// terminal result.
func (e *Engine) runFlow(ctx context.Context, it item) domain.Result {
	log := e.log.With("request_id", it.id)
	log.Info("flow state", "state", stateParsing)

	parsed, err := parseTrigger(DecodeRecursively(it.raw))
	if err != nil {
		return e.fail(it.id, err)
	}
	req := parsed.req
	req.ID = it.id
	req.ParentID = it.parentID
	if parsed.derivedRaw != "" && it.parentID == "" {
		log.Info("multi-card trigger, queueing second card type", "card_type", domain.CardTypeSMCB)
		e.enqueue(parsed.derivedRaw, it.id)
	}
	log = log.With("variant", req.Variant.String(), "card_type", string(req.CardType))

	// terminal failures keep the callback mode so the listener can
	// answer the parked request appropriately
	fail := func(err error) domain.Result {
		res := e.fail(it.id, err)
		res.Callback = req.Callback
		res.Deeplink = req.Deeplink
		return res
	}

	base, err := url.Parse(req.ChallengeURL)
	if err != nil {
		return fail(domain.NewFlowError(domain.KindValidation, domain.CodeLaunchParams, "challenge url invalid", err))
	}
	idpHost := base.Scheme + "://" + base.Host

	var (
		oidc   *idp.OpenIDConfiguration
		encKey *josex.EncryptionKey
	)
	if req.Variant == josex.VariantCentralIdp {
		if oidc, err = e.idp.Discovery(ctx, idpHost); err != nil {
			return fail(err)
		}
		if encKey, err = e.idp.EncryptionKey(ctx, oidc); err != nil {
			return fail(err)
		}
	}

	challenge, err := e.idp.FetchChallenge(ctx, req.Variant, req.ChallengeURL)
	if err != nil {
		return fail(err)
	}

	jws, err := e.signChallenge(ctx, log, req, challenge)
	if err != nil {
		return fail(err)
	}

	submitted := jws
	if req.Variant == josex.VariantCentralIdp && encKey != nil {
		log.Info("flow state", "state", stateEncrypting)
		submitted, err = josex.CreateJWE(jws, *encKey, challengeExp(challenge.Challenge))
		if err != nil {
			fe := domain.NewFlowError(domain.KindCrypto, domain.CodeHashingFailed, "challenge encryption failed", err)
			fe.OAuth = &domain.IdpError{OAuthType: domain.OAuthServerError}
			return fail(fe)
		}
	}

	log.Info("flow state", "state", stateSubmitting)
	var location string
	if req.Variant == josex.VariantOGR {
		hba, smcb := "", ""
		if req.CardType == domain.CardTypeSMCB {
			smcb = submitted
		} else {
			hba = submitted
		}
		location, err = e.idp.SubmitOGR(ctx, challenge.SubmitURL, hba, smcb)
	} else {
		location, err = e.idp.SubmitCentral(ctx, oidc.AuthorizationEndpoint, submitted)
	}
	if err != nil {
		return fail(err)
	}

	// A DIRECT caller holds no browser tab that could walk the redirect
	// chain, so the agent completes it before answering: standard
	// client first, one privileged retry, then the flow fails.
	if req.Callback == domain.CallbackDirect {
		if location, err = e.idp.FollowContinuation(ctx, location); err != nil {
			return fail(err)
		}
	}

	log.Info("flow finished", "callback", string(req.Callback))
	return domain.Result{RequestID: it.id, OK: true, URL: location, Callback: req.Callback, Deeplink: req.Deeplink}
}

// signChallenge walks RESOLVING_CARD through SIGNING. A card vanishing
// mid-signing re-enters card resolution; everything else is terminal.
func (e *Engine) signChallenge(ctx context.Context, log *slog.Logger, req domain.Request, challenge *idp.ChallengeData) (string, error) {
	for {
		log.Info("flow state", "state", stateResolving)
		card, err := e.resolveCard(ctx, req.CardType)
		if err != nil {
			return "", err
		}

		userID, err := e.st.UserIDs().Ensure(ctx, card.ICCSN)
		if err != nil {
			return "", err
		}
		e.conn.SetUser(userID)
		log.Debug("card resolved", "terminal", card.TerminalID, "slot", card.SlotID, "user", userID)

		log.Info("flow state", "state", stateCheckingPin)
		status, err := e.conn.GetPinStatus(ctx, card)
		if err != nil {
			return "", err
		}
		if !status.Usable(card.Type) {
			return "", pinError(status, card.Type)
		}

		card.Certificate, err = e.conn.ReadCardCertificate(ctx, card)
		if err != nil {
			return "", err
		}

		log.Info("flow state", "state", stateSigning)
		env, err := josex.BuildEnvelope(req.Variant, challenge.Challenge, challenge.SID, card.Certificate, card.ECC)
		if err != nil {
			return "", domain.NewFlowError(domain.KindCrypto, domain.CodeHashingFailed, "signing input failed", err)
		}

		sigB64, err := e.conn.ExternalAuthenticate(ctx, card.Handle, env.HashedSigningInput(), req.Variant == josex.VariantOGR)
		if err != nil {
			var f *connector.Fault
			if errors.As(err, &f) && f.NoCards() {
				log.Warn("card removed during signing, resolving again")
				continue
			}
			return "", err
		}

		sig, err := base64.StdEncoding.DecodeString(sigB64)
		if err != nil {
			return "", domain.NewFlowError(domain.KindConnector, domain.CodeSignatureDecode, "signature is not base64", err)
		}
		if card.ECC {
			if sig, err = josex.ConcatFromDER(sig, 32); err != nil {
				return "", domain.NewFlowError(domain.KindCrypto, domain.CodeSignatureInvalid, "ecdsa signature malformed", err)
			}
		}

		jws := env.AssembleCompact(sig)
		if !josex.ValidCompactJWS(jws) {
			return "", domain.NewFlowError(domain.KindCrypto, domain.CodeSignatureInvalid, "assembled jws invalid", nil)
		}
		return jws, nil
	}
}

// resolveCard enumerates terminals and cards. No card inserted prompts
// the user and retries on a fixed delay until a card appears or the
// flow is cancelled. More than one card defers to the selector.
func (e *Engine) resolveCard(ctx context.Context, cardType domain.CardType) (domain.Card, error) {
	for {
		terminals, err := e.conn.GetCardTerminals(ctx)
		if err != nil {
			return domain.Card{}, cancelErr(err)
		}
		e.log.Debug("terminals enumerated", "count", len(terminals))

		cards, err := e.conn.GetCards(ctx, cardType)
		if err != nil {
			var f *connector.Fault
			if errors.As(err, &f) && f.NoCards() {
				e.prompter.InsertCard(cardType)
				select {
				case <-ctx.Done():
					return domain.Card{}, cancelErr(ctx.Err())
				case <-time.After(e.retryDelay):
				}
				continue
			}
			return domain.Card{}, cancelErr(err)
		}
		if len(cards) == 1 {
			return cards[0], nil
		}

		e.log.Warn("several cards inserted for one card type",
			"card_type", string(cardType), "count", len(cards), "code", domain.CodeMultipleCards)
		card, err := e.selector.Select(ctx, cards)
		if err != nil {
			return domain.Card{}, cancelErr(err)
		}
		return card, nil
	}
}

// pinError maps an unusable PIN status onto its terminal error.
func pinError(status domain.PinStatus, cardType domain.CardType) *domain.FlowError {
	code := domain.CodePinNotUsable
	switch status {
	case domain.PinStatusTransportPin:
		code = domain.CodeTransportPin
	case domain.PinStatusVerifiable:
		// HBA only: the card wants a fresh PIN entry at the terminal
		code = domain.CodePinVerify
	}
	return domain.NewFlowError(domain.KindConnector, code,
		"card pin not usable: "+string(status)+" ("+string(cardType)+")", nil)
}

// challengeExp reads the exp claim of the challenge token; the JWE
// header mirrors it so the IdP can reject stale submissions cheaply.
// The token is signed with a brainpool algorithm no verifier here knows,
// so only the payload segment is decoded.
func challengeExp(challenge string) int64 {
	if parts := strings.Split(challenge, "."); len(parts) == 3 {
		claims := jwt.MapClaims{}
		if err := josex.DecodeSegment(parts[1], &claims); err == nil {
			if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
				return exp.Unix()
			}
		}
	}
	return time.Now().Add(5 * time.Minute).Unix()
}
