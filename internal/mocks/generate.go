package mocks

//go:generate mockgen -destination=./mock_store.go -package=mocks github.com/rickgao/trade-relay/internal/storage Store
