package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/vyrodovalexey/svcgw/internal/config"
	"github.com/vyrodovalexey/svcgw/internal/observability"
)

const slowQueryThreshold = 200 * time.Millisecond

// SQL serves records stored in a relational database through gorm.
type SQL struct {
	db     *gorm.DB
	driver string
	logger observability.Logger
}

// SQLOption configures a SQL repository.
type SQLOption func(*SQL)

// WithSQLLogger routes gorm logging into logger.
func WithSQLLogger(logger observability.Logger) SQLOption {
	return func(s *SQL) {
		s.logger = logger
	}
}

// OpenSQL connects to the database selected by driver (sqlite or mysql)
// and migrates the gateway tables.
func OpenSQL(ctx context.Context, driver, dsn string, opts ...SQLOption) (*SQL, error) {
	s := &SQL{driver: driver, logger: observability.NopLogger()}
	for _, opt := range opts {
		opt(s)
	}

	var dialector gorm.Dialector
	switch driver {
	case config.RepositorySQLite:
		dialector = sqlite.Open(dsn)
	case config.RepositoryMySQL:
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported repository driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: &gormLogger{logger: s.logger, level: gormlogger.Warn}})
	if err != nil {
		return nil, fmt.Errorf("open %s repository: %w", driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open %s repository: %w", driver, err)
	}
	if driver == config.RepositorySQLite {
		// every connection to an in-memory sqlite database is a new database
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s repository: %w", driver, err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&serviceModel{}, &instanceModel{}, &routeModel{}, &aggregationModel{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate %s repository: %w", driver, err)
	}

	s.db = db
	s.logger.Info("connected to configuration repository", observability.String("driver", driver))
	return s, nil
}

// Seed writes records into an empty repository inside one transaction.
// It does nothing when services already exist.
func (s *SQL) Seed(ctx context.Context, services []config.Service, routes []config.Route, aggregations []config.Aggregation) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&serviceModel{}).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		for i := range services {
			m := serviceToModel(&services[i])
			if err := tx.Create(&m).Error; err != nil {
				return fmt.Errorf("seed service %s: %w", services[i].Name, err)
			}
		}
		for i := range routes {
			m := routeToModel(&routes[i])
			if err := tx.Create(&m).Error; err != nil {
				return fmt.Errorf("seed route %s: %w", routes[i].Key(), err)
			}
		}
		for i := range aggregations {
			m := aggregationToModel(&aggregations[i])
			if err := tx.Create(&m).Error; err != nil {
				return fmt.Errorf("seed aggregation %s: %w", aggregations[i].Name, err)
			}
		}
		s.logger.Info("seeded configuration repository",
			observability.Int("services", len(services)),
			observability.Int("routes", len(routes)),
			observability.Int("aggregations", len(aggregations)),
		)
		return nil
	})
}

// ListActiveRoutes implements Repository.
func (s *SQL) ListActiveRoutes(ctx context.Context) ([]config.Route, error) {
	var models []routeModel
	err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Order("priority DESC").Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("list routes: %w", err)
	}
	out := make([]config.Route, 0, len(models))
	for i := range models {
		out = append(out, models[i].toConfig())
	}
	return out, nil
}

// GetService implements Repository.
func (s *SQL) GetService(ctx context.Context, name string) (*config.Service, error) {
	var m serviceModel
	err := s.db.WithContext(ctx).Preload("Instances").Where("name = ?", name).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("get service %s: %w", name, err)
	}
	svc := m.toConfig()
	for i := range m.Instances {
		svc.Instances = append(svc.Instances, m.Instances[i].toConfig())
	}
	return &svc, nil
}

// ListServices implements Repository. Instances are not loaded.
func (s *SQL) ListServices(ctx context.Context) ([]config.Service, error) {
	var models []serviceModel
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	out := make([]config.Service, 0, len(models))
	for i := range models {
		out = append(out, models[i].toConfig())
	}
	return out, nil
}

// ListInstances implements Repository.
func (s *SQL) ListInstances(ctx context.Context, service string) ([]config.Instance, error) {
	var svc serviceModel
	err := s.db.WithContext(ctx).Select("id").Where("name = ?", service).First(&svc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, service)
	}
	if err != nil {
		return nil, fmt.Errorf("list instances of %s: %w", service, err)
	}

	var models []instanceModel
	if err := s.db.WithContext(ctx).Where("service_id = ?", svc.ID).Order("id ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list instances of %s: %w", service, err)
	}
	out := make([]config.Instance, 0, len(models))
	for i := range models {
		out = append(out, models[i].toConfig())
	}
	return out, nil
}

// FindAggregations implements Repository.
func (s *SQL) FindAggregations(ctx context.Context, requestPath, method string) ([]config.Aggregation, error) {
	var models []aggregationModel
	err := s.db.WithContext(ctx).
		Where("active = ? AND request_path = ? AND request_method IN ?", true, requestPath,
			[]string{strings.ToUpper(method), config.MethodAny}).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("find aggregations: %w", err)
	}
	return aggregationsToConfig(models), nil
}

// ListAggregations implements Repository.
func (s *SQL) ListAggregations(ctx context.Context) ([]config.Aggregation, error) {
	var models []aggregationModel
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("id ASC").Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list aggregations: %w", err)
	}
	return aggregationsToConfig(models), nil
}

// Ping implements Repository.
func (s *SQL) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close implements Repository.
func (s *SQL) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func aggregationsToConfig(models []aggregationModel) []config.Aggregation {
	out := make([]config.Aggregation, 0, len(models))
	for i := range models {
		out = append(out, models[i].toConfig())
	}
	return out
}

// gormLogger adapts gorm logging to observability.Logger.
type gormLogger struct {
	logger observability.Logger
	level  gormlogger.LogLevel
}

func (l *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Info {
		l.logger.Info(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Warn {
		l.logger.Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Error {
		l.logger.Error(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		sql, rows := fc()
		l.logger.WithContext(ctx).Error("sql error",
			observability.Duration("duration", elapsed),
			observability.String("sql", sql),
			observability.Int64("rows", rows),
			observability.Error(err),
		)
	case elapsed > slowQueryThreshold && l.level >= gormlogger.Warn:
		sql, rows := fc()
		l.logger.WithContext(ctx).Warn("slow sql",
			observability.Duration("duration", elapsed),
			observability.String("sql", sql),
			observability.Int64("rows", rows),
		)
	case l.level >= gormlogger.Info:
		sql, rows := fc()
		l.logger.WithContext(ctx).Debug("sql",
			observability.Duration("duration", elapsed),
			observability.String("sql", sql),
			observability.Int64("rows", rows),
		)
	}
}
