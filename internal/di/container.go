package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/threadcart/api/internal/platform/config"
	"github.com/threadcart/api/internal/platform/mail"
	"github.com/threadcart/api/internal/repositories"
	"github.com/threadcart/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
// Concrete implementations are assembled via dependency injection in
// NewContainer.
type Services struct {
	Catalog  services.CatalogService
	Coupons  services.CouponService
	Pricing  services.Pricer
	Orders   services.OrderService
	Checkout services.CheckoutService
	Users    services.UserService
	Counters services.CounterService
	System   services.SystemService
	Jobs     services.BackgroundJobDispatcher
}

// Deps carries the externally constructed collaborators the service graph
// needs: payment gateway, event publisher, mail transport, and object
// storage. Any of them may be nil; the dependent service is then skipped or
// built in degraded form.
type Deps struct {
	Registry      repositories.Registry
	Gateway       services.PaymentGateway
	Events        services.OrderEventPublisher
	Tokens        services.TokenIssuer
	Mailer        mail.Sender
	PhotoSigner   services.PhotoURLSigner
	ObjectRemover services.ObjectRemover
	Logger        func(context.Context, string, map[string]any)
	Build         services.BuildInfo
}

// Container wires repositories, services, and background infrastructure for
// runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring
// provides real implementations, while tests can supply in-memory stubs.
func NewContainer(ctx context.Context, cfg config.Config, deps Deps) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: deps.Registry,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients and background workers.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Services.Jobs != nil {
		if err := c.Services.Jobs.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close job dispatcher: %w", err))
		}
	}
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close repositories: %w", err))
		}
	}
	return errors.Join(errs...)
}

func buildServices(ctx context.Context, cfg config.Config, deps Deps) (Services, error) {
	var svc Services
	reg := deps.Registry

	dispatcher, err := services.NewTaskDispatcher(services.TaskDispatcherDeps{
		Logger: deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build job dispatcher: %w", err)
	}
	svc.Jobs = dispatcher

	counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
		Repository: reg.Counters(),
		Clock:      time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}
	svc.Counters = counterSvc

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products:     reg.Products(),
		Collections:  reg.Collections(),
		Signer:       deps.PhotoSigner,
		Remover:      deps.ObjectRemover,
		Bucket:       cfg.Storage.PhotosBucket,
		UploadExpiry: cfg.Storage.UploadURLExpiry,
		Clock:        time.Now,
		Logger:       deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	couponSvc, err := services.NewCouponService(services.CouponServiceDeps{
		Coupons: reg.Coupons(),
		Clock:   time.Now,
		Logger:  deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build coupon service: %w", err)
	}
	svc.Coupons = couponSvc

	pricer, err := services.NewPricingEngine(services.PricingEngineDeps{
		Products:            reg.Products(),
		Coupons:             reg.Coupons(),
		Currency:            cfg.Pricing.Currency,
		RequireActiveCoupon: cfg.Pricing.RequireActiveCoupon,
		Logger:              deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}
	svc.Pricing = pricer

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:          reg.Orders(),
		Counters:        counterSvc,
		Events:          deps.Events,
		RestockOnCancel: cfg.Orders.RestockOnCancel,
		Clock:           time.Now,
		Logger:          deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	if deps.Gateway != nil {
		checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
			Pricer:  pricer,
			Orders:  orderSvc,
			Gateway: deps.Gateway,
			Pending: reg.Orders(),
			Clock:   time.Now,
			Logger:  deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build checkout service: %w", err)
		}
		svc.Checkout = checkoutSvc
	}

	if deps.Tokens != nil {
		userSvc, err := services.NewUserService(services.UserServiceDeps{
			Users:  reg.Users(),
			Tokens: deps.Tokens,
			Mailer: deps.Mailer,
			Jobs:   dispatcher,
			Clock:  time.Now,
			Logger: deps.Logger,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build user service: %w", err)
		}
		svc.Users = userSvc
	}

	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Clock:            time.Now,
		Build:            deps.Build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	return svc, nil
}
