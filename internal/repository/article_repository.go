package repository

import (
	"research-companion-go/internal/model"

	"gorm.io/gorm"
)

// ArticleRepository 接口定义了文章元数据的持久化操作。
type ArticleRepository interface {
	Create(article *model.Article) error
	FindByID(articleID uint) (*model.Article, error)
	FindByIDAndUser(articleID, userID uint) (*model.Article, error)
	FindByUser(userID uint) ([]model.Article, error)
	Delete(articleID uint) error
}

// articleRepository 是 ArticleRepository 接口的 GORM 实现。
type articleRepository struct {
	db *gorm.DB
}

// NewArticleRepository 创建一个新的 ArticleRepository 实例。
func NewArticleRepository(db *gorm.DB) ArticleRepository {
	return &articleRepository{db: db}
}

// Create 在数据库中创建一条新的文章记录。
func (r *articleRepository) Create(article *model.Article) error {
	return r.db.Create(article).Error
}

// FindByID 根据文章 ID 查找文章。
func (r *articleRepository) FindByID(articleID uint) (*model.Article, error) {
	var article model.Article
	err := r.db.First(&article, articleID).Error
	if err != nil {
		return nil, err
	}
	return &article, nil
}

// FindByIDAndUser 查找属于指定用户的文章，用于所有权校验。
func (r *articleRepository) FindByIDAndUser(articleID, userID uint) (*model.Article, error) {
	var article model.Article
	err := r.db.Where("id = ? AND user_id = ?", articleID, userID).First(&article).Error
	if err != nil {
		return nil, err
	}
	return &article, nil
}

// FindByUser 按创建时间倒序返回指定用户的全部文章。
func (r *articleRepository) FindByUser(userID uint) ([]model.Article, error) {
	var articles []model.Article
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&articles).Error
	return articles, err
}

// Delete 删除一条文章记录。
func (r *articleRepository) Delete(articleID uint) error {
	return r.db.Delete(&model.Article{}, articleID).Error
}
