package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	domainauth "github.com/kerdos/kerdos-api/internal/domain/auth"
	"github.com/kerdos/kerdos-api/internal/domain/model"
	"github.com/kerdos/kerdos-api/internal/domain/nav"
	apperrors "github.com/kerdos/kerdos-api/internal/errors"
	"github.com/kerdos/kerdos-api/internal/ports"
)

// signInProviders are the buttons of the auth screen, in display order.
var signInProviders = []ProviderButton{
	{ID: "google", Label: "Continuar con Google"},
	{ID: "facebook", Label: "Continuar con Facebook"},
	{ID: "apple", Label: "Continuar con Apple"},
}

// ProgressReader returns completed-lesson counts keyed by module id.
type ProgressReader interface {
	ModuleProgress(ctx context.Context, userID string) (map[string]int, error)
}

// ScreenServiceOptions groups dependencies for ScreenService.
type ScreenServiceOptions struct {
	Catalog   ports.CatalogSource
	Progress  ProgressReader
	Providers []string
}

// ScreenService builds the data models of app screens.
type ScreenService struct {
	catalog   ports.CatalogSource
	progress  ProgressReader
	providers []string
	now       func() time.Time
}

// NewScreenService constructs a new ScreenService.
func NewScreenService(opts ScreenServiceOptions) *ScreenService {
	if opts.Catalog == nil || opts.Progress == nil {
		panic("service: ScreenService requires Catalog and Progress")
	}
	return &ScreenService{
		catalog:   opts.Catalog,
		progress:  opts.Progress,
		providers: opts.Providers,
		now:       time.Now,
	}
}

// ScreenModel is the payload of one screen.
type ScreenModel struct {
	Screen     nav.Screen      `json:"screen"`
	Welcome    *WelcomeModel   `json:"welcome,omitempty"`
	Onboarding *OnboardingView `json:"onboarding,omitempty"`
	Auth       *AuthModel      `json:"auth,omitempty"`
	Home       *HomeModel      `json:"home,omitempty"`
	Profile    *ProfileModel   `json:"profile,omitempty"`
	Callback   *CallbackModel  `json:"callback,omitempty"`
}

// WelcomeModel is the first screen of a fresh install.
type WelcomeModel struct {
	AppName     string `json:"app_name"`
	Description string `json:"description"`
	Action      string `json:"action"`
}

// ProviderButton is one sign-in option.
type ProviderButton struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Enabled bool   `json:"enabled"`
}

// AuthModel lists the sign-in options.
type AuthModel struct {
	Title     string           `json:"title"`
	Providers []ProviderButton `json:"providers"`
}

// CallbackModel tells the app to post the deep link it received.
type CallbackModel struct {
	Endpoint string `json:"endpoint"`
}

// ModuleCard is a module with the user's progress through it.
type ModuleCard struct {
	model.Module
	LessonsCompleted int `json:"lessons_completed"`
	Percent          int `json:"percent"`
}

// HomeModel is the dashboard.
type HomeModel struct {
	Greeting         string              `json:"greeting"`
	CurrentStreak    int                 `json:"current_streak"`
	LongestStreak    int                 `json:"longest_streak"`
	TotalXP          int                 `json:"total_xp"`
	LessonsCompleted int                 `json:"lessons_completed"`
	Reflection       model.Reflection    `json:"reflection"`
	Modules          []ModuleCard        `json:"modules"`
	Week             []model.CalendarDay `json:"week"`
}

// ProfileModel is the profile screen.
type ProfileModel struct {
	DisplayName   string         `json:"display_name"`
	Email         string         `json:"email"`
	AvatarURL     string         `json:"avatar_url,omitempty"`
	Plan          model.PlanType `json:"plan"`
	PlanLabel     string         `json:"plan_label"`
	CurrentStreak int            `json:"current_streak"`
	LongestStreak int            `json:"longest_streak"`
	TotalXP       int            `json:"total_xp"`
	MemberSince   string         `json:"member_since,omitempty"`
}

// Build returns the model of screen for state. The caller has already applied
// the navigation guard, so screen is reachable.
func (s *ScreenService) Build(
	ctx context.Context,
	screen nav.Screen,
	state domainauth.State,
	onboarding OnboardingView,
) (ScreenModel, error) {
	out := ScreenModel{Screen: screen}
	switch screen {
	case nav.ScreenWelcome:
		out.Welcome = &WelcomeModel{
			AppName:     "Kerdos",
			Description: "Gestiona tus finanzas de manera simple y efectiva",
			Action:      "Comenzar",
		}
	case nav.ScreenOnboarding:
		out.Onboarding = &onboarding
	case nav.ScreenAuth:
		out.Auth = s.authModel()
	case nav.ScreenAuthCallback:
		out.Callback = &CallbackModel{Endpoint: "/v1/auth/deeplink"}
	case nav.ScreenHome:
		home, err := s.homeModel(ctx, state)
		if err != nil {
			return ScreenModel{}, err
		}
		out.Home = home
	case nav.ScreenProfile:
		out.Profile = profileModel(state)
	default:
		return ScreenModel{}, fmt.Errorf("no model for screen %q", screen)
	}
	return out, nil
}

func (s *ScreenService) authModel() *AuthModel {
	buttons := make([]ProviderButton, 0, len(signInProviders))
	for _, b := range signInProviders {
		b.Enabled = slices.Contains(s.providers, b.ID)
		buttons = append(buttons, b)
	}
	return &AuthModel{Title: "Crea tu cuenta en Kerdos", Providers: buttons}
}

func (s *ScreenService) homeModel(ctx context.Context, state domainauth.State) (*HomeModel, error) {
	cat := s.catalog.Catalog()
	home := &HomeModel{
		Greeting:   "Hola, " + state.Profile.DisplayName(),
		Reflection: cat.Reflection,
		Week:       model.WeekStrip(s.now()),
	}
	if p := state.Profile; p != nil {
		home.CurrentStreak = p.CurrentStreak
		home.LongestStreak = p.LongestStreak
		home.TotalXP = p.TotalXP
	}

	counts := map[string]int{}
	if userID := state.UserID(); userID != "" {
		var err error
		if counts, err = s.progress.ModuleProgress(ctx, userID); err != nil {
			return nil, err
		}
	}

	home.Modules = make([]ModuleCard, 0, len(cat.Modules))
	for _, m := range cat.Modules {
		done := min(counts[m.ID], m.TotalLessons)
		home.LessonsCompleted += done
		home.Modules = append(home.Modules, ModuleCard{
			Module:           m,
			LessonsCompleted: done,
			Percent:          done * 100 / m.TotalLessons,
		})
	}
	return home, nil
}

func profileModel(state domainauth.State) *ProfileModel {
	p := state.Profile
	out := &ProfileModel{DisplayName: p.DisplayName(), Plan: p.Plan(), PlanLabel: "Plan gratuito"}
	if out.Plan == model.PlanBasic {
		out.PlanLabel = "Plan básico"
	}
	if state.User != nil {
		out.Email = state.User.Email
	}
	if p == nil {
		return out
	}
	if p.AvatarURL != nil {
		out.AvatarURL = *p.AvatarURL
	}
	out.CurrentStreak = p.CurrentStreak
	out.LongestStreak = p.LongestStreak
	out.TotalXP = p.TotalXP
	if !p.CreatedAt.IsZero() {
		out.MemberSince = p.CreatedAt.UTC().Format(time.DateOnly)
	}
	return out
}

// Calendar is the week strip and month grid for a month.
type Calendar struct {
	Month string              `json:"month"`
	Week  []model.CalendarDay `json:"week"`
	Grid  []model.CalendarDay `json:"grid"`
}

// Calendar returns the calendar for month formatted as YYYY-MM; empty means the
// current month.
func (s *ScreenService) Calendar(month string) (Calendar, error) {
	now := s.now()
	ref := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	if month != "" {
		parsed, err := time.Parse("2006-01", month)
		if err != nil {
			return Calendar{}, apperrors.ValidationField("month", "month must be formatted as YYYY-MM")
		}
		ref = parsed
	}
	return Calendar{
		Month: ref.Format("2006-01"),
		Week:  model.WeekStrip(now),
		Grid:  model.MonthGrid(ref.Year(), ref.Month(), now),
	}, nil
}
