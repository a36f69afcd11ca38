package httpadapter

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"carrierwave/internal/metrics"
	"carrierwave/internal/ports"
)

// CallerHeader carries the wallet address of the caller. Signature
// verification happens upstream of this service.
const CallerHeader = "X-Wallet-Address"

type Options struct {
	PlatformFeeBps uint32
	// DevRoutes enables host account deposits over HTTP.
	DevRoutes      bool
	RateLimitRPS   float64
	RateLimitBurst int
	Logger         *zap.Logger
}

type Server struct {
	engine   ports.Bounties
	mirror   ports.MirrorQueries
	accounts ports.Accounts
	opts     Options
	log      *zap.Logger
}

func New(engine ports.Bounties, mirror ports.MirrorQueries, accounts ports.Accounts, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{engine: engine, mirror: mirror, accounts: accounts, opts: opts, log: log}
}

// Routes returns a chi.Router with every endpoint mounted.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.InstrumentHandler)

	r.Get("/healthz", s.getHealthz)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/settlement/preview", s.getSettlementPreview)

	r.Group(func(r chi.Router) {
		if s.opts.RateLimitRPS > 0 {
			r.Use(NewRateLimiter(s.opts.RateLimitRPS, s.opts.RateLimitBurst, s.log).Handler)
		}

		r.Post("/scientists", s.postScientist)
		r.Get("/scientists/{address}", s.getScientist)
		r.Get("/scientists/{address}/claims", s.getScientistClaims)

		r.Route("/bounties", func(r chi.Router) {
			r.Post("/", s.postBounty)
			r.Get("/", s.listBounties)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getBounty)
				r.Post("/finalize", s.postFinalize)
				r.Post("/cancel", s.postCancel)
				r.Get("/escrows", s.listEscrows)
				r.Post("/claims", s.postClaim)
				r.Get("/claims", s.listClaims)
				r.Get("/claims/{index}", s.getClaim)
				r.Post("/claims/{index}/approve", s.postApprove)
				r.Post("/claims/{index}/reject", s.postReject)
			})
		})

		r.Get("/escrows/{id}", s.getEscrow)
		r.Post("/escrows/{id}/claim", s.postEscrowClaim)

		r.Get("/accounts/{address}", s.getAccount)
		if s.opts.DevRoutes {
			r.Post("/accounts/{address}/deposit", s.postDeposit)
		}
	})
	return r
}
