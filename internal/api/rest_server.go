package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/annel0/mmo-world/internal/logging"
	"github.com/annel0/mmo-world/internal/vec"
	"github.com/annel0/mmo-world/internal/world"
	"github.com/gin-gonic/gin"
)

// GameDirectory — read-only доступ к запущенным мирам для REST API.
// Реализуется игровым сервером; интерфейс разрывает зависимость
// пакета api от диспетчера.
type GameDirectory interface {
	Worlds() []string
	PlayersOf(worldName string) ([]string, bool)
}

// RestServer — административный HTTP API: здоровье процесса, список
// миров и игроков, характеристики местности.
type RestServer struct {
	directory GameDirectory
	generator world.ChunkGenerator
	engine    *gin.Engine
	srv       *http.Server
}

// NewRestServer создаёт REST сервер.
func NewRestServer(directory GameDirectory, generator world.ChunkGenerator) *RestServer {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	rs := &RestServer{
		directory: directory,
		generator: generator,
		engine:    engine,
	}
	rs.routes()
	return rs
}

func (rs *RestServer) routes() {
	rs.engine.GET("/healthz", rs.handleHealth)

	apiGroup := rs.engine.Group("/api")
	{
		apiGroup.GET("/worlds", rs.handleWorlds)
		apiGroup.GET("/worlds/:name/players", rs.handlePlayers)
		apiGroup.GET("/terrain", rs.handleTerrain)
	}
}

// Start запускает HTTP сервер в отдельной горутине.
func (rs *RestServer) Start(port int) {
	rs.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: rs.engine,
	}
	go func() {
		if err := rs.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("REST сервер завершился с ошибкой: %v", err)
		}
	}()
	logging.Info("REST API запущен на :%d", port)
}

// Stop останавливает HTTP сервер.
func (rs *RestServer) Stop() {
	if rs.srv != nil {
		rs.srv.Close()
	}
}

// Handler возвращает http.Handler (для тестов).
func (rs *RestServer) Handler() http.Handler {
	return rs.engine
}

func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (rs *RestServer) handleWorlds(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"worlds": rs.directory.Worlds()})
}

func (rs *RestServer) handlePlayers(c *gin.Context) {
	players, ok := rs.directory.PlayersOf(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "world not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"players": players})
}

// handleTerrain возвращает характеристики местности в позиции.
func (rs *RestServer) handleTerrain(c *gin.Context) {
	x, errX := strconv.ParseUint(c.Query("x"), 10, 32)
	y, errY := strconv.ParseUint(c.Query("y"), 10, 32)
	if errX != nil || errY != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "x and y must be uint32"})
		return
	}
	attrs := rs.generator.QueryAttributes(vec.TilePos{X: uint32(x), Y: uint32(y)})
	c.JSON(http.StatusOK, gin.H{
		"temperature": attrs.Temperature,
		"altitude":    attrs.Altitude,
		"humidity":    attrs.Humidity,
	})
}
