package main

import (
	"context"
	"crypto/rand"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/mmo-world/internal/api"
	"github.com/annel0/mmo-world/internal/auth"
	"github.com/annel0/mmo-world/internal/config"
	"github.com/annel0/mmo-world/internal/eventbus"
	"github.com/annel0/mmo-world/internal/game"
	"github.com/annel0/mmo-world/internal/logging"
	"github.com/annel0/mmo-world/internal/network"
	"github.com/annel0/mmo-world/internal/observability"
	"github.com/annel0/mmo-world/internal/storage"
	"github.com/annel0/mmo-world/internal/world"
	"github.com/annel0/mmo-world/internal/world/block"
)

func main() {
	if err := logging.Init("server"); err != nil {
		log.Fatalf("Ошибка инициализации логирования: %v", err)
	}
	defer logging.Close()

	logging.Info("Запуск сервера мира...")

	// === КОНФИГУРАЦИЯ ===
	cfg, err := config.Load("")
	if err != nil {
		logging.Warn("Не удалось загрузить config: %v", err)
	}
	if cfg == nil {
		cfg = &config.Config{}
	}

	// === TELEMETRY ===
	shutdownTel, err := observability.InitTelemetry(context.Background(), "mmo_world_server")
	if err != nil {
		logging.Warn("Не удалось инициализировать OpenTelemetry: %v", err)
	}

	// === ХРАНИЛИЩЕ МИРА ===
	var repo storage.WorldRepo
	if cfg.Database.DSN != "" {
		repo, err = storage.NewMariaWorldRepo(cfg.Database.DSN)
		if err != nil {
			log.Fatalf("MariaDB недоступна: %v", err)
		}
		logging.Info("Хранилище мира: MariaDB")
	} else {
		dataPath := cfg.Database.DataPath
		if dataPath == "" {
			dataPath = "data"
		}
		repo, err = storage.NewBadgerWorldRepo(dataPath)
		if err != nil {
			log.Fatalf("BadgerDB недоступна: %v", err)
		}
		logging.Info("Хранилище мира: BadgerDB (%s)", dataPath)
	}

	// Кэш блобов чанков поверх хранилища
	if cfg.Redis.Addr != "" {
		cached, err := storage.NewRedisChunkCache(repo, cfg.Redis.Addr, time.Duration(cfg.Redis.TTLMinutes)*time.Minute)
		if err != nil {
			logging.Warn("Redis недоступен, кэш чанков отключён: %v", err)
		} else {
			repo = cached
			logging.Info("Кэш чанков: Redis %s", cfg.Redis.Addr)
		}
	}
	defer repo.Close()

	// === ПОЛЬЗОВАТЕЛИ ===
	var users auth.UserRepository
	switch {
	case cfg.Database.MongoURI != "":
		users, err = auth.NewMongoUserRepo(auth.MongoConfig{URI: cfg.Database.MongoURI})
		if err != nil {
			log.Fatalf("MongoDB недоступна: %v", err)
		}
		logging.Info("Репозиторий пользователей: MongoDB")
	case cfg.Database.DSN != "":
		mariaUsers, err := auth.NewMariaUserRepo(cfg.Database.DSN)
		if err != nil {
			log.Fatalf("MariaDB недоступна: %v", err)
		}
		adminPassword := cfg.Auth.AdminPassword
		if adminPassword == "" {
			adminPassword = "ChangeMe123!"
		}
		if err := mariaUsers.EnsureDefaultAdmin(adminPassword); err != nil {
			logging.Warn("Не удалось создать администратора по умолчанию: %v", err)
		}
		users = mariaUsers
		logging.Info("Репозиторий пользователей: MariaDB")
	default:
		mem := auth.NewMemoryUserRepo()
		adminPassword := cfg.Auth.AdminPassword
		if adminPassword == "" {
			adminPassword = "ChangeMe123!"
		}
		if hash, err := auth.HashPassword(adminPassword); err == nil {
			mem.CreateUser("admin", hash, true)
		}
		users = mem
		logging.Warn("Репозиторий пользователей в памяти: учётные записи не переживут перезапуск")
	}
	defer users.Close()

	// === АУТЕНТИФИКАЦИЯ ===
	secret := []byte(cfg.Auth.Secret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			log.Fatalf("Не удалось сгенерировать секрет сессий: %v", err)
		}
		logging.Warn("Секрет сессий сгенерирован случайно: токены не переживут перезапуск")
	}
	sessions := auth.NewSessionIssuer(secret, time.Duration(cfg.Auth.TokenTTLHours)*time.Hour)

	policy, err := auth.ParsePolicy(cfg.Auth.Policy)
	if err != nil {
		logging.Warn("%v, используется public", err)
	}
	registrar := auth.NewRegistrar(policy, cfg.Auth.InviteCodes)
	logging.Info("Политика регистрации: %s", policy)

	// === КАТАЛОГ БЛОКОВ ===
	// Каталог поставляет внешний загрузчик пакетов контента; при его
	// отсутствии используется минимальный встроенный набор.
	catalog := block.DefaultCatalog()
	if raw, err := os.ReadFile("raws/blocks.json"); err == nil {
		if err := catalog.LoadJSON(raw); err != nil {
			logging.Warn("Не удалось загрузить каталог блоков: %v", err)
		} else {
			logging.Info("Каталог блоков загружен: %d типов", catalog.Len())
		}
	}

	// === ГЕНЕРАТОР ===
	var generator world.ChunkGenerator
	if cfg.World.Generator == "noise" {
		generator = world.NewNoiseGenerator(cfg.World.Seed)
		logging.Info("Генератор мира: noise (seed=%d)", cfg.World.Seed)
	} else {
		generator = world.NewFlatGenerator()
		logging.Info("Генератор мира: flat")
	}

	// === ШИНА СОБЫТИЙ ===
	var bus eventbus.EventBus
	if cfg.EventBus.URL != "" {
		bus, err = eventbus.NewJetStreamBus(cfg.EventBus.URL, cfg.EventBus.Stream, 0)
		if err != nil {
			logging.Warn("JetStream недоступен, используется шина в памяти: %v", err)
			bus = eventbus.NewMemoryBus()
		}
	} else {
		bus = eventbus.NewMemoryBus()
	}
	defer bus.Close()

	// === ИГРОВОЙ СЕРВЕР ===
	codec, err := network.NewFrameCodec(cfg.Server.GetFrameCodec())
	if err != nil {
		log.Fatalf("Кодек кадров: %v", err)
	}
	server := game.NewServer(game.ServerDeps{
		Users:     users,
		Registrar: registrar,
		Sessions:  sessions,
		Repo:      repo,
		Catalog:   catalog,
		Generator: generator,
		Bus:       eventbus.NewWorldPublisher(bus, "mmo_world_server"),
		Codec:     codec,
		GameOpts: game.Options{
			TickInterval:   time.Duration(cfg.World.GetTickMs()) * time.Millisecond,
			RenderDistance: cfg.World.GetRenderDistance(),
			SendTimeout:    time.Duration(cfg.World.GetSendTimeout()) * time.Second,
		},
	})

	listener, err := network.NewListener(cfg.Server.GetTransport(), cfg.Server.GetListenAddr())
	if err != nil {
		log.Fatalf("Не удалось открыть слушатель: %v", err)
	}
	go server.Serve(listener)
	logging.Info("Транспорт: %s, кодек: %s, адрес: %s",
		cfg.Server.GetTransport(), codec.Name(), cfg.Server.GetListenAddr())

	// === REST API И МЕТРИКИ ===
	rest := api.NewRestServer(server, generator)
	rest.Start(cfg.Server.GetRESTPort())

	metrics := api.NewMetricsExporter()
	metrics.Start(cfg.Server.GetMetricsPort())

	// === ОЖИДАНИЕ ЗАВЕРШЕНИЯ ===
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logging.Info("Остановка сервера...")
	rest.Stop()
	metrics.Stop()
	server.Stop()
	if shutdownTel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		shutdownTel(ctx)
		cancel()
	}
	logging.Info("Сервер остановлен")
}
