package game

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/annel0/mmo-world/internal/auth"
	"github.com/annel0/mmo-world/internal/logging"
	"github.com/annel0/mmo-world/internal/network"
	"github.com/annel0/mmo-world/internal/storage"
	"github.com/annel0/mmo-world/internal/world"
	"github.com/annel0/mmo-world/internal/world/block"
	"github.com/annel0/mmo-world/internal/world/component"
)

// ServerDeps — зависимости диспетчера запросов.
type ServerDeps struct {
	Users     auth.UserRepository
	Registrar *auth.Registrar
	Sessions  *auth.SessionIssuer
	Repo      storage.WorldRepo
	Catalog   *block.Catalog
	Generator world.ChunkGenerator
	Bus       EventPublisher
	Codec     network.FrameCodec
	GameOpts  Options
}

// Server принимает соединения, маршрутизирует типизированные запросы
// между server-scoped обработчиками и мирами и владеет таблицей
// запущенных миров.
type Server struct {
	deps ServerDeps

	registry *component.Registry

	gamesMu sync.RWMutex
	games   map[string]*Game

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewServer создаёт диспетчер.
func NewServer(deps ServerDeps) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		deps:     deps,
		registry: component.NewRegistry(),
		games:    make(map[string]*Game),
		conns:    make(map[net.Conn]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Registry возвращает общий реестр компонентов: пользовательские типы
// регистрируются до запуска миров.
func (s *Server) Registry() *component.Registry {
	return s.registry
}

// Serve запускает цикл приёма соединений на слушателе. Блокирует до
// остановки сервера.
func (s *Server) Serve(ln net.Listener) {
	s.listener = ln
	logging.Info("Игровой слушатель запущен на %s", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				logging.Warn("Ошибка принятия соединения: %v", err)
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// Stop останавливает слушатель и все миры; обработчики запросов в
// полёте завершаются, заблокированные на чтении соединения — закрываются.
func (s *Server) Stop() {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()
	s.wg.Wait()

	s.gamesMu.Lock()
	defer s.gamesMu.Unlock()
	for _, g := range s.games {
		g.Stop()
	}
}

// Worlds возвращает имена запущенных миров (для REST API).
func (s *Server) Worlds() []string {
	s.gamesMu.RLock()
	defer s.gamesMu.RUnlock()
	res := make([]string, 0, len(s.games))
	for name := range s.games {
		res = append(res, name)
	}
	return res
}

// PlayersOf возвращает игроков запущенного мира (для REST API).
func (s *Server) PlayersOf(worldName string) ([]string, bool) {
	g, ok := s.GameByName(worldName)
	if !ok {
		return nil, false
	}
	return g.Players(), true
}

// GameByName возвращает запущенный мир.
func (s *Server) GameByName(name string) (*Game, bool) {
	s.gamesMu.RLock()
	defer s.gamesMu.RUnlock()
	g, ok := s.games[name]
	return g, ok
}

// handleConn обслуживает одно соединение: читает кадры, разрешает
// сессию и мир, диспетчеризует запросы. При ошибке чтения соединение
// закрывается, а пользователь отключается от всех миров, в которые
// входил через это соединение.
func (s *Server) handleConn(raw net.Conn) {
	defer s.wg.Done()
	s.connsMu.Lock()
	s.conns[raw] = struct{}{}
	s.connsMu.Unlock()
	defer func() {
		s.connsMu.Lock()
		delete(s.conns, raw)
		s.connsMu.Unlock()
	}()

	conn := network.NewConnection(raw, s.deps.Codec, s.deps.GameOpts.SendTimeout)
	logging.Info("Новое соединение %s с %s", conn.ID(), conn.RemoteAddr())

	// Миры, в которые вошло это соединение: world -> username
	joined := make(map[string]string)
	defer func() {
		conn.Close()
		for worldName, username := range joined {
			if g, ok := s.GameByName(worldName); ok {
				g.Disconnect(username)
			}
		}
		logging.Info("Соединение %s закрыто", conn.ID())
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		req, rawPayload, err := conn.ReadRequest()
		if err != nil {
			if req == nil && rawPayload == nil {
				// Транспортная ошибка или EOF
				return
			}
			// Протокольная ошибка: соединение сохраняется
			logging.LogFrameError(conn.ID(), err, rawPayload)
			conn.Send(network.Error("malformed request"))
			continue
		}

		claims := s.deps.Sessions.Verify(req.SessionToken)
		resp := s.dispatch(req, claims, conn)
		if resp != nil {
			if err := conn.Send(resp); err != nil {
				logging.Warn("Не удалось отправить ответ по соединению %s: %v", conn.ID(), err)
				return
			}
		}

		// Учёт членства соединения в мирах
		if claims != nil && resp != nil && resp.Type == network.RespTypeOk {
			switch req.Type {
			case network.ReqJoin:
				joined[req.WorldName] = claims.UserName
			case network.ReqLeave:
				delete(joined, req.WorldName)
			}
		}
	}
}

// dispatch маршрутизирует запрос: server-scoped варианты обрабатываются
// здесь, остальные требуют мира и живого пользователя.
func (s *Server) dispatch(req *network.Request, claims *auth.ServerClaims, conn *network.Connection) *network.Response {
	switch req.Type {
	case network.ReqRegisterUser:
		return s.handleRegisterUser(req)
	case network.ReqLogin:
		return s.handleLogin(req)
	case network.ReqLogout:
		return network.Ok()
	case network.ReqCreateGame:
		return s.handleCreateGame(req, claims)
	case network.ReqLoadGame:
		return s.handleLoadGame(req, claims)
	default:
		// World-scoped запросы
		if req.WorldName == "" {
			return network.Error("missing world_name")
		}
		g, ok := s.GameByName(req.WorldName)
		if !ok {
			return network.Error("world does not exist")
		}
		if claims == nil {
			return network.AuthFailure()
		}
		return g.HandleRequest(s.ctx, req, claims, conn)
	}
}

// handleRegisterUser регистрирует пользователя согласно политике.
func (s *Server) handleRegisterUser(req *network.Request) *network.Response {
	if req.User == "" || req.Password == "" {
		return network.Error("missing user or password")
	}
	if err := s.deps.Registrar.Allow(req.InviteCode); err != nil {
		return network.Error(err.Error())
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		logging.Error("Ошибка хеширования пароля: %v", err)
		return network.Error("internal error")
	}
	if _, err := s.deps.Users.CreateUser(req.User, hash, false); err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			return network.Error("user already exists")
		}
		logging.Error("Ошибка создания пользователя %s: %v", req.User, err)
		return network.Error("internal error")
	}
	logging.Info("Зарегистрирован пользователь %s", req.User)
	return network.Ok()
}

// handleLogin проверяет учётные данные и выпускает токен сессии.
func (s *Server) handleLogin(req *network.Request) *network.Response {
	user, err := s.deps.Users.ValidateCredentials(req.User, req.Password)
	if err != nil {
		logging.Warn("Неудачная аутентификация пользователя %s", req.User)
		return network.AuthFailure()
	}
	token, err := s.deps.Sessions.Issue(user)
	if err != nil {
		logging.Error("Ошибка выпуска токена для %s: %v", req.User, err)
		return network.AuthFailure()
	}
	logging.Info("Пользователь %s вошёл в систему", user.Username)
	return network.AuthSuccess(token)
}

// handleCreateGame создаёт новый мир (admin).
func (s *Server) handleCreateGame(req *network.Request, claims *auth.ServerClaims) *network.Response {
	if claims == nil {
		return network.AuthFailure()
	}
	if !claims.IsAdmin {
		return network.PermissionDenied()
	}
	if req.WorldName == "" {
		return network.Error("missing world_name")
	}

	created, err := s.deps.Repo.CreateWorld(s.ctx, req.WorldName)
	if err != nil {
		logging.Error("Ошибка создания мира %s: %v", req.WorldName, err)
		return network.Error("internal error")
	}
	if !created {
		return network.Error("world already exists")
	}

	s.startGame(req.WorldName, true)
	logging.Info("Мир %s создан администратором %s", req.WorldName, claims.UserName)
	return network.Ok()
}

// handleLoadGame поднимает существующий мир из персистентности (admin),
// восстанавливая резидентное множество предыдущего завершения.
func (s *Server) handleLoadGame(req *network.Request, claims *auth.ServerClaims) *network.Response {
	if claims == nil {
		return network.AuthFailure()
	}
	if !claims.IsAdmin {
		return network.PermissionDenied()
	}
	if req.WorldName == "" {
		return network.Error("missing world_name")
	}

	if _, running := s.GameByName(req.WorldName); running {
		return network.Ok()
	}
	exists, err := s.deps.Repo.WorldExists(s.ctx, req.WorldName)
	if err != nil {
		logging.Error("Ошибка проверки мира %s: %v", req.WorldName, err)
		return network.Error("internal error")
	}
	if !exists {
		return network.Error("world does not exist")
	}

	s.startGame(req.WorldName, true)
	logging.Info("Мир %s загружен администратором %s", req.WorldName, claims.UserName)
	return network.Ok()
}

// startGame создаёт мир, при необходимости восстанавливает
// резидентность и запускает тиковую задачу.
func (s *Server) startGame(name string, restore bool) *Game {
	s.gamesMu.Lock()
	defer s.gamesMu.Unlock()
	if g, ok := s.games[name]; ok {
		return g
	}

	w := world.NewWorld(name, s.registry)
	if restore {
		if err := storage.RestoreResidency(s.ctx, s.deps.Repo, w); err != nil {
			logging.Error("Восстановление резидентности мира %s не удалось: %v", name, err)
		}
	}

	g := NewGame(w, s.deps.Repo, s.deps.Generator, s.deps.Catalog, s.deps.Bus, s.deps.GameOpts)
	g.Start(s.ctx)
	s.games[name] = g
	return g
}
