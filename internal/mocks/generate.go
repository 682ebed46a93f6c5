// Package mocks provides gomock mocks for the port interfaces.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	idp := mocks.NewMockIdentityProvider(ctrl)
//	idp.EXPECT().Resolve(gomock.Any(), gomock.Any()).Return(identity, nil)
package mocks

//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=identity_provider_mock.go github.com/kerdos/kerdos-api/internal/ports IdentityProvider
//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=profile_store_mock.go github.com/kerdos/kerdos-api/internal/ports ProfileStore,ProgressStore
