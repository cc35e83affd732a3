package container

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greeter interface {
	Greet() string
}

type simpleGreeter struct {
	name string
}

func (g *simpleGreeter) Greet() string { return "hello " + g.name }

type orderedGreeter struct {
	simpleGreeter
	order int
}

func (g *orderedGreeter) Order() int { return g.order }

type stringFactory struct {
	calls int
}

func (f *stringFactory) Object() (any, error) {
	f.calls++
	return "product", nil
}

func (f *stringFactory) ObjectType() reflect.Type { return reflect.TypeFor[string]() }

type lifecycleRecorder struct {
	name   string
	events *[]string
}

func (l *lifecycleRecorder) Start(context.Context) error {
	*l.events = append(*l.events, "start:"+l.name)
	return nil
}

func (l *lifecycleRecorder) Stop(context.Context) error {
	*l.events = append(*l.events, "stop:"+l.name)
	return nil
}

var greeterType = reflect.TypeFor[greeter]()

func newRoot(t *testing.T) (*Hierarchy, *Scope) {
	t.Helper()
	h := NewHierarchy(nil)
	root, err := h.NewScope(ScopeOptions{ID: "ctx", Index: -1, Root: true})
	require.NoError(t, err)
	return h, root
}

func newModuleScope(t *testing.T, h *Hierarchy, parent *Scope, module string, index int) *Scope {
	t.Helper()
	s, err := h.NewScope(ScopeOptions{ID: "ctx." + module, Module: module, Index: index, Parent: parent})
	require.NoError(t, err)
	return s
}

func exposedDef(name string, origin *Scope) *Definition {
	return &Definition{
		Name: name,
		Exposed: &ExposedRef{
			ContextID:    "ctx",
			ModuleName:   origin.Module(),
			OriginalName: name,
			Origin:       origin,
		},
	}
}

func TestScopeLookup(t *testing.T) {
	t.Run("local_then_parent_then_foreign", func(t *testing.T) {
		h := NewHierarchy(nil)
		support, err := h.NewScope(ScopeOptions{ID: "support", Index: -1, Foreign: Beans{"external": "from-foreign"}})
		require.NoError(t, err)
		root, err := h.NewScope(ScopeOptions{ID: "ctx", Index: -1, Parent: support, Root: true})
		require.NoError(t, err)
		mod := newModuleScope(t, h, root, "a", 0)

		require.NoError(t, root.Register(Singleton("shared", "from-root")))
		require.NoError(t, mod.Register(Singleton("local", "from-module")))

		v, err := mod.Get("local")
		require.NoError(t, err)
		assert.Equal(t, "from-module", v)

		v, err = mod.Get("shared")
		require.NoError(t, err)
		assert.Equal(t, "from-root", v)

		v, err = mod.Get("external")
		require.NoError(t, err)
		assert.Equal(t, "from-foreign", v)

		_, err = root.Get("local")
		assert.ErrorIs(t, err, ErrBeanNotFound)
		assert.True(t, mod.Contains("external"))
		assert.False(t, root.Contains("local"))
	})

	t.Run("aliases", func(t *testing.T) {
		_, root := newRoot(t)
		require.NoError(t, root.Register(Singleton("db", "conn").WithAliases("database")))
		require.NoError(t, root.Alias("database", "primaryDb"))

		v, err := root.Get("primaryDb")
		require.NoError(t, err)
		assert.Equal(t, "conn", v)

		err = root.Register(Singleton("database", "other"))
		assert.ErrorIs(t, err, ErrBeanAlreadyRegistered)
		err = root.Alias("db", "db")
		assert.ErrorIs(t, err, ErrAliasConflict)
	})

	t.Run("factory_bean_dereference", func(t *testing.T) {
		_, root := newRoot(t)
		factory := &stringFactory{}
		require.NoError(t, root.Register(Singleton("text", factory)))

		v, err := root.Get("text")
		require.NoError(t, err)
		assert.Equal(t, "product", v)

		v, err = root.Get("text")
		require.NoError(t, err)
		assert.Equal(t, "product", v)
		assert.Equal(t, 1, factory.calls)

		v, err = root.Get("&text")
		require.NoError(t, err)
		assert.Same(t, factory, v)

		typ, err := root.TypeOf("text")
		require.NoError(t, err)
		assert.Equal(t, reflect.TypeFor[string](), typ)

		require.NoError(t, root.Register(Singleton("plain", "value")))
		_, err = root.Get("&plain")
		assert.ErrorIs(t, err, ErrNotFactoryBean)
	})

	t.Run("resolve_into_target", func(t *testing.T) {
		_, root := newRoot(t)
		g := &simpleGreeter{name: "bob"}
		require.NoError(t, root.Register(Singleton("greeter", g)))

		var target greeter
		require.NoError(t, root.Resolve("greeter", &target))
		assert.Equal(t, "hello bob", target.Greet())

		var wrong *stringFactory
		err := root.Resolve("greeter", &wrong)
		assert.ErrorIs(t, err, ErrBeanIncompatible)
		assert.ErrorIs(t, root.Resolve("greeter", "not-a-pointer"), ErrTargetNotPointer)

		got, err := Get[greeter](root, "greeter")
		require.NoError(t, err)
		assert.Same(t, g, got)

		found, err := Find[greeter](root)
		require.NoError(t, err)
		assert.Same(t, g, found)
	})

	t.Run("circular_reference", func(t *testing.T) {
		_, root := newRoot(t)
		require.NoError(t, root.Register(Provide("a", func(r Resolver) (any, error) { return r.Get("b") })))
		require.NoError(t, root.Register(Provide("b", func(r Resolver) (any, error) { return r.Get("a") })))

		err := root.Refresh(context.Background())
		assert.ErrorIs(t, err, ErrCircularReference)
	})
}

func TestExposedDefinitions(t *testing.T) {
	t.Run("delegates_to_origin", func(t *testing.T) {
		h, root := newRoot(t)
		mod := newModuleScope(t, h, root, "a", 0)
		created := 0
		require.NoError(t, mod.Register(Provide("service", func(Resolver) (any, error) {
			created++
			return &simpleGreeter{name: "a"}, nil
		})))
		require.NoError(t, root.Register(exposedDef("service", mod)))

		fromRoot, err := root.Get("service")
		require.NoError(t, err)
		fromModule, err := mod.Get("service")
		require.NoError(t, err)
		assert.Same(t, fromModule, fromRoot)
		assert.Equal(t, 1, created)

		typ, err := root.TypeOf("service")
		require.NoError(t, err)
		assert.Equal(t, reflect.TypeFor[*simpleGreeter](), typ)
	})

	t.Run("keeps_factory_dereference", func(t *testing.T) {
		h, root := newRoot(t)
		mod := newModuleScope(t, h, root, "a", 0)
		factory := &stringFactory{}
		require.NoError(t, mod.Register(Singleton("text", factory)))
		require.NoError(t, root.Register(exposedDef("text", mod)))

		v, err := root.Get("&text")
		require.NoError(t, err)
		assert.Same(t, factory, v)

		v, err = root.Get("text")
		require.NoError(t, err)
		assert.Equal(t, "product", v)
	})

	t.Run("origin_resolved_by_module_name", func(t *testing.T) {
		h, root := newRoot(t)
		mod := newModuleScope(t, h, root, "a", 0)
		require.NoError(t, mod.Register(Singleton("value", 42)))
		def := exposedDef("value", mod)
		def.Exposed.Origin = nil
		require.NoError(t, root.Register(def))

		v, err := root.Get("value")
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	})

	t.Run("closed_origin", func(t *testing.T) {
		h, root := newRoot(t)
		mod := newModuleScope(t, h, root, "a", 0)
		require.NoError(t, mod.Register(Singleton("value", 42)))
		require.NoError(t, root.Register(exposedDef("value", mod)))
		require.NoError(t, mod.Close(context.Background()))

		_, err := root.Get("value")
		assert.ErrorIs(t, err, ErrExposedOriginClosed)
	})
}

func TestGetByType(t *testing.T) {
	t.Run("local_candidate_preferred_over_exposed", func(t *testing.T) {
		h, root := newRoot(t)
		a := newModuleScope(t, h, root, "a", 0)
		b := newModuleScope(t, h, root, "b", 1)
		require.NoError(t, a.Register(Singleton("greeterA", &simpleGreeter{name: "a"})))
		require.NoError(t, b.Register(Singleton("greeterB", &simpleGreeter{name: "b"})))
		require.NoError(t, b.Register(exposedDef("greeterA", a)))

		v, err := b.GetByType(greeterType)
		require.NoError(t, err)
		assert.Equal(t, "hello b", v.(greeter).Greet())
	})

	t.Run("primary_wins", func(t *testing.T) {
		_, root := newRoot(t)
		require.NoError(t, root.Register(Singleton("one", &simpleGreeter{name: "one"})))
		require.NoError(t, root.Register(Singleton("two", &simpleGreeter{name: "two"})))

		_, err := root.GetByType(greeterType)
		assert.ErrorIs(t, err, ErrAmbiguousBean)

		require.NoError(t, root.Register(Singleton("three", &simpleGreeter{name: "three"}).WithPrimary()))
		v, err := root.GetByType(greeterType)
		require.NoError(t, err)
		assert.Equal(t, "hello three", v.(greeter).Greet())
	})

	t.Run("falls_back_to_parent", func(t *testing.T) {
		h, root := newRoot(t)
		mod := newModuleScope(t, h, root, "a", 0)
		require.NoError(t, root.Register(Singleton("greeter", &simpleGreeter{name: "root"})))

		v, err := mod.GetByType(greeterType)
		require.NoError(t, err)
		assert.Equal(t, "hello root", v.(greeter).Greet())

		_, err = mod.GetByType(reflect.TypeFor[*stringFactory]())
		assert.ErrorIs(t, err, ErrBeanNotFound)
	})
}

func TestBeansOfTypeOrdering(t *testing.T) {
	h, root := newRoot(t)
	m0 := newModuleScope(t, h, root, "m0", 0)
	m1 := newModuleScope(t, h, root, "m1", 1)

	require.NoError(t, m1.Register(Singleton("m1a", &simpleGreeter{name: "m1a"}).WithModuleOrder(2)))
	require.NoError(t, m1.Register(Singleton("m1b", &simpleGreeter{name: "m1b"}).WithModuleOrder(1)))
	require.NoError(t, m0.Register(Singleton("m0b", &simpleGreeter{name: "m0b"})))
	require.NoError(t, m0.Register(Singleton("m0", &orderedGreeter{simpleGreeter: simpleGreeter{name: "m0"}, order: 5})))
	require.NoError(t, root.Register(Singleton("r", &simpleGreeter{name: "r"})))
	require.NoError(t, root.Register(Singleton("last", &simpleGreeter{name: "last"}).WithOrder(LowestPrecedence)))
	require.NoError(t, root.Register(exposedDef("m0b", m0)))

	beans, err := h.BeansOfType(greeterType)
	require.NoError(t, err)

	var names []string
	for _, b := range beans {
		names = append(names, b.(greeter).Greet())
	}
	assert.Equal(t, []string{
		"hello m0", "hello r", "hello m0b", "hello m1b", "hello m1a", "hello last",
	}, names)
}

func TestRefreshableCollections(t *testing.T) {
	h, root := newRoot(t)
	require.NoError(t, root.Register(Singleton("r", &simpleGreeter{name: "r"})))

	snapshot, err := CollectionOf[greeter](root, false)
	require.NoError(t, err)
	incremental, err := CollectionOf[greeter](root, true)
	require.NoError(t, err)
	assert.Equal(t, 1, snapshot.Len())
	assert.Equal(t, 1, incremental.Len())

	mod := newModuleScope(t, h, root, "a", 0)
	require.NoError(t, mod.Register(Singleton("a", &simpleGreeter{name: "a"})))

	require.NoError(t, h.RefreshCollections(false))
	assert.Equal(t, 1, snapshot.Len())
	assert.Equal(t, 2, incremental.Len())
	assert.True(t, incremental.Incremental())

	require.NoError(t, h.RefreshCollections(true))
	assert.Len(t, Items[greeter](snapshot), 2)
}

func TestInternalScopesAreHidden(t *testing.T) {
	h, root := newRoot(t)
	internal, err := h.NewScope(ScopeOptions{ID: "ctx.installers", Index: -1, Parent: root, Internal: true})
	require.NoError(t, err)
	require.NoError(t, internal.Register(Singleton("hidden", &simpleGreeter{name: "hidden"})))

	beans, err := h.BeansOfType(greeterType)
	require.NoError(t, err)
	assert.Empty(t, beans)
	assert.Empty(t, h.ModuleScopes())
}

func TestPostRefresh(t *testing.T) {
	t.Run("runs_once_with_late_dependencies", func(t *testing.T) {
		h, root := newRoot(t)
		early := newModuleScope(t, h, root, "early", 0)

		var got []string
		hook := PostRefreshHook{
			Name:         "wireGreeters",
			Dependencies: []Dependency{{Name: "late"}, {Type: reflect.TypeFor[[]greeter]()}},
			Required:     true,
			Invoke: func(bean any, deps []any) error {
				got = append(got, deps[0].(greeter).Greet())
				for _, g := range deps[1].([]greeter) {
					got = append(got, g.Greet())
				}
				return nil
			},
		}
		require.NoError(t, early.Register(Singleton("consumer", "consumer").WithPostRefresh(hook)))
		require.NoError(t, early.Refresh(context.Background()))

		late := newModuleScope(t, h, root, "late", 1)
		require.NoError(t, late.Register(Singleton("late", &simpleGreeter{name: "late"})))
		require.NoError(t, root.Register(exposedDef("late", late)))
		require.NoError(t, late.Refresh(context.Background()))

		require.NoError(t, h.PostRefresh(context.Background()))
		require.NoError(t, h.PostRefresh(context.Background()))
		assert.Equal(t, []string{"hello late", "hello late"}, got)
	})

	t.Run("required_unresolvable_fails", func(t *testing.T) {
		_, root := newRoot(t)
		require.NoError(t, root.Register(Singleton("consumer", "c").WithPostRefresh(PostRefreshHook{
			Name:         "needsMissing",
			Dependencies: []Dependency{{Name: "missing"}},
			Required:     true,
			Invoke:       func(any, []any) error { return nil },
		})))
		require.NoError(t, root.Refresh(context.Background()))

		err := root.Hierarchy().PostRefresh(context.Background())
		assert.ErrorIs(t, err, ErrPostRefreshUnresolvable)
		assert.ErrorIs(t, err, ErrBeanNotFound)
	})

	t.Run("optional_unresolvable_is_skipped", func(t *testing.T) {
		_, root := newRoot(t)
		invoked := false
		require.NoError(t, root.Register(Singleton("consumer", "c").WithPostRefresh(PostRefreshHook{
			Name:         "maybe",
			Dependencies: []Dependency{{Type: greeterType}},
			Invoke: func(any, []any) error {
				invoked = true
				return nil
			},
		})))
		require.NoError(t, root.Refresh(context.Background()))

		require.NoError(t, root.Hierarchy().PostRefresh(context.Background()))
		assert.False(t, invoked)
	})
}

func TestLoad(t *testing.T) {
	catalog := NewCatalog()
	catalog.Register("example.com/app/web", Singleton("handler", "web-handler"))
	catalog.Register("example.com/app/web/admin", Singleton("adminHandler", "admin-handler"))
	catalog.Register("example.com/application", Singleton("unrelated", "nope"))

	var steps []string
	_, root := newRoot(t)

	first := &Configurer{
		Name:       "first",
		Properties: []PropertySource{NewMapSource("first", map[string]any{"greeting.name": "world"})},
		Singletons: []ProvidedSingleton{{Name: "prebuilt", Instance: "prebuilt"}},
		PostProcessors: []PostProcessor{PostProcessorFunc(func(s *Scope) error {
			steps = append(steps, "postprocess")
			return nil
		})},
		Configurations: []Configuration{
			NewConfiguration("greeting", func(r Registrar) error {
				steps = append(steps, "configure")
				assert.True(t, r.Contains("prebuilt"))
				return r.Register(Provide("greeter", func(r Resolver) (any, error) {
					name, _ := r.Property("greeting.name")
					return &simpleGreeter{name: name.(string)}, nil
				}))
			}),
			NewConfiguration("excluded", func(r Registrar) error {
				return errors.New("must not run")
			}),
		},
	}
	second := &Configurer{
		Name:         "second",
		Properties:   []PropertySource{NewMapSource("second", map[string]any{"greeting.name": "ignored", "other": 1})},
		ScanPackages: []string{"example.com/app/web"},
	}

	err := Load(context.Background(), root, LoadOptions{
		Catalog:  catalog,
		Excluded: []string{"excluded"},
		AfterProperties: func(s *Scope) error {
			steps = append(steps, "properties")
			assert.Empty(t, s.Definitions())
			return nil
		},
	}, first, second)
	require.NoError(t, err)

	assert.Equal(t, []string{"properties", "configure", "postprocess"}, steps)
	assert.True(t, root.IsRefreshed())

	g, err := Find[greeter](root)
	require.NoError(t, err)
	assert.Equal(t, "hello world", g.Greet())

	other, ok := root.Property("other")
	assert.True(t, ok)
	assert.Equal(t, 1, other)

	assert.True(t, root.ContainsLocal("handler"))
	assert.True(t, root.ContainsLocal("adminHandler"))
	assert.False(t, root.ContainsLocal("unrelated"))
	assert.True(t, first.HasComponents())
	assert.False(t, (&Configurer{Properties: first.Properties}).HasComponents())
}

func TestRefreshAndClose(t *testing.T) {
	h, root := newRoot(t)
	var events []string
	require.NoError(t, root.Register(Singleton("one", &lifecycleRecorder{name: "one", events: &events})))
	require.NoError(t, root.Register(Singleton("two", &lifecycleRecorder{name: "two", events: &events})))
	require.NoError(t, root.Register(Provide("lazy", func(Resolver) (any, error) {
		return &lifecycleRecorder{name: "lazy", events: &events}, nil
	}).AsLazy()))

	require.NoError(t, root.Refresh(context.Background()))
	assert.ErrorIs(t, root.Refresh(context.Background()), ErrScopeAlreadyRefreshed)
	require.NoError(t, root.Close(context.Background()))
	require.NoError(t, root.Close(context.Background()))

	assert.Equal(t, []string{"start:one", "start:two", "stop:two", "stop:one"}, events)
	assert.Nil(t, h.Root())
	assert.True(t, root.IsClosed())

	_, err := root.Get("one")
	assert.ErrorIs(t, err, ErrScopeClosed)
	assert.ErrorIs(t, root.Register(Singleton("late", 1)), ErrScopeClosed)
}

func TestTypeCache(t *testing.T) {
	cache := NewTypeCache()
	assert.True(t, cache.Assignable(reflect.TypeFor[*simpleGreeter](), greeterType))
	assert.False(t, cache.Assignable(reflect.TypeFor[string](), greeterType))
	assert.False(t, cache.Assignable(nil, greeterType))
	assert.Equal(t, 2, cache.Len())
	cache.Clear()
	assert.Equal(t, 0, cache.Len())
}
