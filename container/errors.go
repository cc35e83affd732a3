package container

import "errors"

// Container errors
var (
	ErrBeanNotFound            = errors.New("bean not found")
	ErrBeanAlreadyRegistered   = errors.New("bean already registered")
	ErrAliasConflict           = errors.New("alias already in use")
	ErrAmbiguousBean           = errors.New("more than one bean matches")
	ErrNotFactoryBean          = errors.New("bean is not a factory bean")
	ErrCircularReference       = errors.New("bean is currently in creation")
	ErrTypeUnknown             = errors.New("bean type unknown until created")
	ErrInvalidDefinition       = errors.New("invalid bean definition")
	ErrScopeClosed             = errors.New("scope is closed")
	ErrScopeAlreadyRefreshed   = errors.New("scope already refreshed")
	ErrPostRefreshUnresolvable = errors.New("post-refresh dependency cannot be resolved")

	// Injection errors
	ErrTargetNotPointer    = errors.New("target must be a non-nil pointer")
	ErrBeanIncompatible    = errors.New("bean cannot be assigned to target")
	ErrExposedOriginClosed = errors.New("origin scope of exposed bean is closed")
)
